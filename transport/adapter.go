package transport

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/openbag/openbag/internal/ids"
)

// WrapWatermill bridges a Watermill publisher/subscriber pair (what every
// Builder in this pack produces) into the byte-only Factory contract the
// recorder and player are written against. This is the seam that keeps
// Watermill's typed message API out of the core, per the spec's transport
// design note.
func WrapWatermill(wire WireTransport) Factory {
	ctx, cancel := context.WithCancel(context.Background())
	return &watermillFactory{
		wire:   wire,
		ctx:    ctx,
		cancel: cancel,
	}
}

type watermillFactory struct {
	wire   WireTransport
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (f *watermillFactory) CreatePublisher(topic string) (Publisher, error) {
	return &watermillTopicPublisher{topic: topic, publisher: f.wire.Publisher}, nil
}

func (f *watermillFactory) CreateSubscriber(topic string, callback func(payload []byte)) (Subscriber, error) {
	msgs, err := f.wire.Subscriber.Subscribe(f.ctx, topic)
	if err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for msg := range msgs {
			callback(msg.Payload)
			msg.Ack()
		}
	}()

	return &watermillTopicSubscriber{topic: topic}, nil
}

func (f *watermillFactory) Close() error {
	f.cancel()
	f.wg.Wait()

	var errPub, errSub error
	if f.wire.Publisher != nil {
		errPub = f.wire.Publisher.Close()
	}
	if f.wire.Subscriber != nil {
		errSub = f.wire.Subscriber.Close()
	}
	if errPub != nil {
		return errPub
	}
	return errSub
}

type watermillTopicPublisher struct {
	topic     string
	publisher message.Publisher
}

func (p *watermillTopicPublisher) Topic() string { return p.topic }

func (p *watermillTopicPublisher) Publish(payload []byte) bool {
	msg := message.NewMessage(ids.New(), payload)
	return p.publisher.Publish(p.topic, msg) == nil
}

type watermillTopicSubscriber struct {
	topic string
}

func (s *watermillTopicSubscriber) Topic() string { return s.topic }
