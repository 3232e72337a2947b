package mqttconn

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sventek/iot-device-hub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MessageHandler processes one inbound broker message. Handlers are
// invoked sequentially in delivery order.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Manager maintains the single outbound connection to the MQTT broker.
// It subscribes to the device data topic on every (re)connect and
// retries lost connections on a fixed delay indefinitely. Messages
// published while the connection is down are lost at the transport
// layer; nothing is buffered or recovered.
type Manager struct {
	client  mqtt.Client
	logger  *zap.Logger
	topic   string
	qos     byte
	handler MessageHandler
}

// NewManager creates the broker connection manager and registers its
// fx lifecycle hooks. Startup does not fail when the broker is down;
// the client keeps retrying in the background.
func NewManager(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, handler MessageHandler) (*Manager, error) {
	if handler == nil {
		return nil, fmt.Errorf("mqtt manager requires a message handler")
	}

	m := &Manager{
		logger:  logger,
		topic:   cfg.MQTT.DataTopic,
		qos:     byte(cfg.MQTT.QoS),
		handler: handler,
	}

	retryDelay := time.Duration(cfg.MQTT.ReconnectDelaySeconds) * time.Second
	clientID := fmt.Sprintf("%s-%s", cfg.MQTT.ClientIDPrefix, uuid.New().String()[:8])

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.BrokerURL).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryDelay).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(retryDelay)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)
	opts.SetReconnectingHandler(m.onReconnecting)

	m.client = mqtt.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("connecting to MQTT broker",
				zap.String("broker", cfg.MQTT.BrokerURL),
				zap.String("client_id", clientID),
				zap.Duration("retry_delay", retryDelay),
			)
			token := m.client.Connect()
			// With connect-retry enabled the token only completes on
			// success; watch it in the background so a down broker does
			// not block application start
			go func() {
				token.Wait()
				if err := token.Error(); err != nil {
					logger.Error("mqtt connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			m.client.Disconnect(250)
			logger.Info("mqtt connection closed")
			return nil
		},
	})

	return m, nil
}

// onConnect runs on every successful connection, including reconnects.
// The subscription is re-established here because a clean session
// discards it when the connection drops.
func (m *Manager) onConnect(client mqtt.Client) {
	m.logger.Info("connected to MQTT broker")

	token := client.Subscribe(m.topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		m.handler(context.Background(), msg.Topic(), msg.Payload())
	})
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Error("failed to subscribe", zap.String("topic", m.topic), zap.Error(err))
			return
		}
		m.logger.Info("subscribed", zap.String("topic", m.topic), zap.Uint8("qos", uint8(m.qos)))
	}()
}

func (m *Manager) onConnectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("mqtt connection lost, will reconnect", zap.Error(err))
}

func (m *Manager) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	m.logger.Info("reconnecting to MQTT broker...")
}
