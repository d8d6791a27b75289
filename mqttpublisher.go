package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher optionally republishes party-clock and mixer status to an
// MQTT broker, grounded on the teacher's mqtt_publisher.go
// (NewClientOptions/Publish-on-event convention) generalized from
// SDR/noisefloor metrics to this module's status snapshot.
type MQTTPublisher struct {
	client mqtt.Client
	config MQTTConfig
}

// StatusPayload is the JSON body published to config.MQTT.Topic.
type StatusPayload struct {
	Timestamp    int64 `json:"timestamp"`
	ClockSynced  bool  `json:"clock_synced"`
	ClockOffset  int64 `json:"clock_offset_us"`
	MixerActive  int   `json:"mixer_active_buffers"`
	SyncedActive int   `json:"synced_active_streams"`
}

// generateClientID builds a random MQTT client id, grounded on the
// teacher's generateClientID (mqtt_publisher.go).
func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "partyaudio_" + hex.EncodeToString(b)
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("MQTT: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return &MQTTPublisher{client: client, config: cfg}, nil
}

// Publish sends one status snapshot.
func (p *MQTTPublisher) Publish(payload StatusPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: marshal status payload: %v", err)
		return
	}
	token := p.client.Publish(p.config.Topic, p.config.QoS, p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT ERROR: publish to %s: %v", p.config.Topic, token.Error())
	}
}

// Run publishes snapshot() on every tick until stop is closed.
func (p *MQTTPublisher) Run(snapshot func() StatusPayload, stop <-chan struct{}) {
	hz := p.config.PublishHz
	if hz <= 0 {
		hz = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Publish(snapshot())
		}
	}
}

// Disconnect closes the broker connection.
func (p *MQTTPublisher) Disconnect() {
	p.client.Disconnect(250)
}
