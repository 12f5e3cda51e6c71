// Command simulator feeds unit positions to the dispatch service through the
// MQTT inbound topic and acknowledges the dispatches it receives back.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/emsdispatch/core/events"
	"github.com/kilianp07/emsdispatch/core/model"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli paho.Client
	publish := func(m events.Upstream) error {
		payload, err := events.EncodeUpstream(m)
		if err != nil {
			return err
		}
		token := cli.Publish(cfg.InboundTopic, 0, false, payload)
		token.Wait()
		return token.Error()
	}
	strat := RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate}
	cli = newMQTTClient(cfg, "tracking-sim-"+uuid.NewString()[:8], onDispatch(ctx, publish, strat))
	if err := connect(ctx, cli); err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer cli.Disconnect(250)

	units := GenerateFleet(cfg.Count, model.Location{Lat: cfg.CenterLat, Lng: cfg.CenterLng}, cfg.SpreadKm)
	runUnits(ctx, units, cfg, publish)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.IntVar(&cfg.Count, "count", 10, "number of units")
	flag.DurationVar(&cfg.Interval, "interval", 2*time.Second, "position publish interval")
	flag.Float64Var(&cfg.CenterLat, "lat", 48.8566, "fleet center latitude")
	flag.Float64Var(&cfg.CenterLng, "lng", 2.3522, "fleet center longitude")
	flag.Float64Var(&cfg.SpreadKm, "spread", 5, "initial scatter radius in km")
	flag.Float64Var(&cfg.StepKm, "step", 0.2, "distance moved per interval in km")
	flag.StringVar(&cfg.InboundTopic, "inbound-topic", "tracking/inbound", "topic the dispatch service reads")
	flag.StringVar(&cfg.OutboundTopic, "outbound-topic", "tracking/outbound", "topic the dispatch service writes")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "ack latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "ack drop rate")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	return cfg
}

func onDispatch(ctx context.Context, publish Publish, strat AckStrategy) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		m, err := events.DecodeUpstream(msg.Payload())
		if err != nil {
			log.Printf("decode: %v", err)
			return
		}
		d, ok := m.(events.TrackingDispatch)
		if !ok || d.Kind == KindAcknowledged {
			return
		}
		log.Printf("%s dispatched to %s (%s)", d.UnitID, d.CallID, d.Kind)
		go strat.Ack(ctx, publish, d)
	}
}

func runUnits(ctx context.Context, units []Unit, cfg Config, publish Publish) {
	t := time.NewTicker(cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for i := range units {
				units[i].Step(cfg.StepKm)
				if err := publish(units[i].Position(now)); err != nil {
					log.Printf("%s: publish: %v", units[i].ID, err)
				}
			}
		}
	}
}
