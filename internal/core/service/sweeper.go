package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultSweepInterval = 60 * time.Second

// ExpirySweeper periodically releases reservations past their TTL and
// cancels the owning orders. Ticks run sequentially on one goroutine, so a
// slow sweep never overlaps the next one.
type ExpirySweeper struct {
	reservations *ReservationManager
	checkout     *CheckoutCoordinator
	interval     time.Duration
	log          *logrus.Entry

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewExpirySweeper(reservations *ReservationManager, checkout *CheckoutCoordinator, interval time.Duration, logger *logrus.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExpirySweeper{
		reservations: reservations,
		checkout:     checkout,
		interval:     interval,
		log:          logger.WithField("component", "sweeper"),
		stop:         make(chan struct{}),
	}
}

func (s *ExpirySweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *ExpirySweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep runs one expiry pass. Failures for one order are logged and do not
// abort processing of the others.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	orderIDs, err := s.reservations.ReleaseExpired(ctx, time.Now())
	if err != nil {
		s.log.WithError(err).Error("expiry scan failed")
		return
	}

	for _, orderID := range orderIDs {
		if err := s.checkout.CancelExpiredOrder(ctx, orderID); err != nil {
			s.log.WithField("order_id", orderID).WithError(err).Error("failed to cancel expired order")
			continue
		}
		s.log.WithField("order_id", orderID).Info("cancelled expired order")
	}
}

// Stop halts the ticker loop and waits for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}
