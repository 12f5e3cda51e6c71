package main

import (
	"context"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// newMQTTClient prepares a client that subscribes to the outbound topic on
// every connect, so dispatches keep flowing after a broker restart.
func newMQTTClient(cfg Config, clientID string, onMessage paho.MessageHandler) paho.Client {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c paho.Client) {
		if t := c.Subscribe(cfg.OutboundTopic, 0, onMessage); t.Wait() && t.Error() != nil {
			log.Printf("subscribe %s: %v", cfg.OutboundTopic, t.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("connection lost: %v", err)
	})
	return paho.NewClient(opts)
}

func connect(ctx context.Context, cli paho.Client) error {
	t := cli.Connect()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
