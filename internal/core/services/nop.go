package services

import (
	"context"
	"time"

	"sfugate/internal/core/domain"
)

type nopMetrics struct{}

func (nopMetrics) RoomCreated(int)                              {}
func (nopMetrics) RoomEvicted()                                 {}
func (nopMetrics) PeerJoined()                                  {}
func (nopMetrics) PeerLeft()                                    {}
func (nopMetrics) TransportOpened()                             {}
func (nopMetrics) TransportClosed()                             {}
func (nopMetrics) ProducerOpened(domain.MediaKind)              {}
func (nopMetrics) ProducerClosed(domain.MediaKind)              {}
func (nopMetrics) ConsumerOpened(domain.MediaKind)              {}
func (nopMetrics) ConsumerClosed(domain.MediaKind)              {}
func (nopMetrics) RequestHandled(string, string, time.Duration) {}
func (nopMetrics) WorkerDied(int)                               {}

type nopNotifier struct{}

func (nopNotifier) Notify(domain.PeerID, string, interface{}) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *domain.SessionEvent) error { return nil }
