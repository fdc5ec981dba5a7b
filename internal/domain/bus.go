package domain

import (
	"context"
	"errors"
)

var (
	ErrBusClosed = errors.New("message bus closed")
	ErrNoHandler = errors.New("no outbound handler for channel")
)

// MessageBus routes messages between channels and the chat loop.
type MessageBus interface {
	// Publish queues an inbound message, waiting while the queue is full
	// until ctx is done.
	Publish(ctx context.Context, msg InboundMessage) error
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage) error
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
