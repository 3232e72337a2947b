// Command publisher sends synthetic device readings to the broker for
// manual end-to-end testing of the ingestion pipeline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type readingPayload struct {
	DeviceName         string  `json:"device_name,omitempty"`
	Voltage            float64 `json:"voltage"`
	Current            float64 `json:"current"`
	BatterySoh         float64 `json:"battery_soh"`
	SohMeasurementTime string  `json:"soh_measurement_time,omitempty"`
}

func main() {
	brokerURL := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	deviceID := flag.String("device", "test-device-001", "Device ID")
	deviceName := flag.String("name", "", "Device display name (defaults to device ID on the server)")
	interval := flag.Duration("interval", 60*time.Second, "Publish interval")
	count := flag.Int("count", 0, "Number of messages to send (0 = until interrupted)")
	qos := flag.Int("qos", 1, "MQTT QoS level")
	flag.Parse()

	topic := fmt.Sprintf("devices/%s/data", *deviceID)

	opts := mqtt.NewClientOptions().
		AddBroker(*brokerURL).
		SetClientID("test-publisher-" + uuid.New().String()[:8]).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(5 * time.Second)

	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		opts.SetUsername(username)
	}
	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		opts.SetPassword(password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", token.Error())
	}
	defer client.Disconnect(250)

	log.Printf("Connected to %s, publishing to %s every %s", *brokerURL, topic, *interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Battery state-of-health degrades slowly across the run
	soh := 100.0
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	for {
		payload := generateReading(*deviceName, &soh)
		body, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("Failed to marshal payload: %v", err)
		}

		token := client.Publish(topic, byte(*qos), false, body)
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish message: %v", token.Error())
		} else {
			sent++
			log.Printf("Sent message %d: voltage=%.2f current=%.2f battery_soh=%.2f",
				sent, payload.Voltage, payload.Current, payload.BatterySoh)
		}

		if *count > 0 && sent >= *count {
			log.Printf("Successfully sent %d messages", sent)
			return
		}

		select {
		case <-sigChan:
			log.Printf("Interrupted after %d messages", sent)
			return
		case <-ticker.C:
		}
	}
}

func generateReading(deviceName string, soh *float64) readingPayload {
	*soh -= rand.Float64() * 0.01
	if *soh < 0 {
		*soh = 0
	}

	return readingPayload{
		DeviceName:         deviceName,
		Voltage:            10.0 + rand.Float64()*5.0, // 10-15V
		Current:            1.0 + rand.Float64()*3.0,  // 1-4A
		BatterySoh:         *soh,
		SohMeasurementTime: time.Now().UTC().Format(time.RFC3339),
	}
}
