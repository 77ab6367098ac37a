package services

import (
	"context"
	"sync"
	"time"

	"celeste/pkg/logger"
	"celeste/pkg/push"
)

// NotificationService delivers push notifications through a bounded queue so
// a slow or unreachable provider never blocks signup processing. When the
// queue is full the notification is dropped and logged; delivery is best
// effort by contract.
type NotificationService struct {
	provider push.Provider
	logger   *logger.Logger
	queue    chan *push.NotificationRequest
	timeout  time.Duration
	wg       sync.WaitGroup
	closed   chan struct{}
}

func NewNotificationService(provider push.Provider, log *logger.Logger, queueSize int, timeout time.Duration) *NotificationService {
	s := &NotificationService{
		provider: provider,
		logger:   log,
		queue:    make(chan *push.NotificationRequest, queueSize),
		timeout:  timeout,
		closed:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Enqueue hands a notification to the delivery worker without blocking.
func (s *NotificationService) Enqueue(request *push.NotificationRequest) {
	if s.provider == nil {
		return
	}

	select {
	case <-s.closed:
		s.logger.Warn("Notification dropped, service closed")
		return
	default:
	}

	select {
	case s.queue <- request:
	default:
		s.logger.WithField("title", request.Title).Warn("Notification queue full, dropping")
	}
}

// Close stops intake, drains queued notifications and waits for the worker.
func (s *NotificationService) Close() {
	close(s.closed)
	s.wg.Wait()
}

func (s *NotificationService) worker() {
	defer s.wg.Done()

	for {
		select {
		case request := <-s.queue:
			s.deliver(request)
		case <-s.closed:
			for {
				select {
				case request := <-s.queue:
					s.deliver(request)
				default:
					return
				}
			}
		}
	}
}

func (s *NotificationService) deliver(request *push.NotificationRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	response, err := s.provider.SendNotification(ctx, request)
	if err != nil {
		s.logger.WithError(err).WithField("title", request.Title).Warn("Failed to send notification")
		return
	}

	s.logger.WithField("message_id", response.MessageID).Debug("Notification sent")
}
