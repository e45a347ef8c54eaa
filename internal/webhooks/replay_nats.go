package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	replayStream  = "LEADLINE_WEBHOOK_REPLAY"
	replaySubject = "leadline.webhooks.replay"
	replayDurable = "leadline-replay"
)

// NATSReplay persists deferred webhooks in a JetStream stream so they survive
// a process restart. Optional: configured only when a NATS URL is present.
type NATSReplay struct {
	js  nats.JetStreamContext
	log *slog.Logger
	sub *nats.Subscription
}

func NewNATSReplay(nc *nats.Conn, log *slog.Logger) (*NATSReplay, error) {
	if log == nil {
		log = slog.Default()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     replayStream,
		Subjects: []string{replaySubject},
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, err
	}
	return &NATSReplay{js: js, log: log}, nil
}

func (n *NATSReplay) Defer(_ context.Context, e RawEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = n.js.Publish(replaySubject, payload)
	return err
}

// Start consumes the durable stream. Handler failures are NAKed so JetStream
// redelivers once the store recovers.
func (n *NATSReplay) Start(ctx context.Context, handler ReplayHandler) error {
	sub, err := n.js.QueueSubscribe(replaySubject, replayDurable,
		func(msg *nats.Msg) {
			var e RawEvent
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				n.log.Warn("dropping undecodable deferred webhook", slog.String("error", err.Error()))
				_ = msg.Ack()
				return
			}
			if err := handler(ctx, e); err != nil {
				_ = msg.NakWithDelay(10 * time.Second)
				return
			}
			_ = msg.Ack()
		},
		nats.Durable(replayDurable),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return err
	}
	n.sub = sub
	go func() {
		<-ctx.Done()
		if err := n.sub.Unsubscribe(); err != nil {
			n.log.Warn("replay unsubscribe failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}
