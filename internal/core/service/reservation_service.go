package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

const statusAttempts = 3

type ReservationService struct {
	ledger    *Ledger
	repo      port.ReservationRepository
	uow       port.UnitOfWork
	publisher port.EventPublisher
	clock     port.Clock
	ttl       time.Duration
	logger    logrus.FieldLogger
}

func NewReservationService(
	ledger *Ledger,
	repo port.ReservationRepository,
	uow port.UnitOfWork,
	publisher port.EventPublisher,
	clock port.Clock,
	ttl time.Duration,
	logger logrus.FieldLogger,
) *ReservationService {
	if ttl <= 0 {
		ttl = domain.DefaultReservationTTL
	}
	return &ReservationService{
		ledger:    ledger,
		repo:      repo,
		uow:       uow,
		publisher: publisher,
		clock:     clock,
		ttl:       ttl,
		logger:    logger,
	}
}

// Create takes quantity out of the ledger and records a PENDING hold for it
// in one unit of work: if the hold cannot be stored the decrease is rolled
// back with it.
func (s *ReservationService) Create(ctx context.Context, sku string, quantity int, storeID string) (domain.Reservation, error) {
	if quantity <= 0 {
		return domain.Reservation{}, errors.Wrapf(domain.ErrInvalidQuantity, "reserve %d of %s", quantity, sku)
	}

	now := s.clock.Now()
	reservation := domain.Reservation{
		ID:        uuid.NewString(),
		SKU:       sku,
		Quantity:  quantity,
		Status:    domain.ReservationStatusPending,
		StoreID:   storeID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		UpdatedAt: now,
	}

	var (
		stored    domain.StockItem
		decreased bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		var err error
		stored, err = s.ledger.apply(ctx, repos, sku, OpDecrease, decreaseBy(sku, quantity))
		if err != nil {
			return err
		}
		decreased = true
		return errors.Wrap(repos.CreateReservation(ctx, reservation), "save reservation")
	})
	if err != nil {
		if decreased {
			s.logger.WithError(err).WithFields(logrus.Fields{"sku": sku, "quantity": quantity}).
				Warn("rolled back stock decrease after reservation save failed")
		}
		return domain.Reservation{}, err
	}
	s.ledger.committed(ctx, OpDecrease, stored)

	s.logger.WithFields(logrus.Fields{
		"reservation_id": reservation.ID,
		"sku":            sku,
		"quantity":       quantity,
		"store_id":       storeID,
	}).Info("reservation created")
	s.publisher.Publish(ctx, domain.NewReservationEvent(domain.EventReservationCreated, now, reservation))

	return reservation, nil
}

// Confirm finalizes a PENDING hold. Stock was already taken at creation and
// is left alone. Confirming twice returns the confirmed reservation;
// confirming a cancelled one fails with ErrInvalidTransition.
func (s *ReservationService) Confirm(ctx context.Context, id string) (domain.Reservation, error) {
	for attempt := 1; attempt <= statusAttempts; attempt++ {
		reservation, err := s.load(ctx, id)
		if err != nil {
			return domain.Reservation{}, err
		}

		switch reservation.Status {
		case domain.ReservationStatusConfirmed:
			return reservation, nil
		case domain.ReservationStatusCancelled:
			s.logger.WithField("reservation_id", id).Warn("refusing to confirm a cancelled reservation")
			return reservation, errors.Wrapf(domain.ErrInvalidTransition, "reservation %s is %s", id, reservation.Status)
		}

		now := s.clock.Now()
		err = s.repo.UpdateReservationStatus(ctx, id, domain.ReservationStatusPending, domain.ReservationStatusConfirmed, now)
		if errors.Is(err, domain.ErrStatusConflict) {
			// another caller moved it first; re-evaluate against the new status
			continue
		}
		if err != nil {
			return domain.Reservation{}, errors.Wrapf(err, "confirm reservation %s", id)
		}

		reservation.Status = domain.ReservationStatusConfirmed
		reservation.UpdatedAt = now
		s.logger.WithField("reservation_id", id).Info("reservation confirmed")
		s.publisher.Publish(ctx, domain.NewReservationEvent(domain.EventReservationConfirmed, now, reservation))
		return reservation, nil
	}
	return domain.Reservation{}, errors.Wrapf(domain.ErrWriteConflict, "confirm reservation %s", id)
}

// Cancel releases a PENDING hold and puts its quantity back in stock.
// Cancelled and confirmed reservations are returned unchanged.
func (s *ReservationService) Cancel(ctx context.Context, id string) (domain.Reservation, error) {
	for attempt := 1; attempt <= statusAttempts; attempt++ {
		reservation, err := s.load(ctx, id)
		if err != nil {
			return domain.Reservation{}, err
		}

		log := s.logger.WithField("reservation_id", id)
		switch reservation.Status {
		case domain.ReservationStatusCancelled:
			log.Warn("reservation already cancelled, skipping stock restore")
			return reservation, nil
		case domain.ReservationStatusConfirmed:
			log.Warn("reservation already confirmed, cannot cancel")
			return reservation, nil
		}

		now := s.clock.Now()
		var stored domain.StockItem
		err = s.uow.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
			err := repos.UpdateReservationStatus(ctx, id, domain.ReservationStatusPending, domain.ReservationStatusCancelled, now)
			if err != nil {
				return err
			}
			stored, err = s.ledger.apply(ctx, repos, reservation.SKU, OpRestore, restoreBy(reservation.Quantity))
			return errors.Wrapf(err, "restore stock for reservation %s", id)
		})
		if errors.Is(err, domain.ErrStatusConflict) {
			// another caller moved it first; re-evaluate against the new status
			continue
		}
		if err != nil {
			return domain.Reservation{}, errors.Wrapf(err, "cancel reservation %s", id)
		}
		s.ledger.committed(ctx, OpRestore, stored)

		reservation.Status = domain.ReservationStatusCancelled
		reservation.UpdatedAt = now
		log.WithFields(logrus.Fields{"sku": reservation.SKU, "quantity": reservation.Quantity}).Info("reservation cancelled")
		s.publisher.Publish(ctx, domain.NewReservationEvent(domain.EventReservationCancelled, now, reservation))
		return reservation, nil
	}
	return domain.Reservation{}, errors.Wrapf(domain.ErrWriteConflict, "cancel reservation %s", id)
}

func (s *ReservationService) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return s.load(ctx, id)
}

func (s *ReservationService) load(ctx context.Context, id string) (domain.Reservation, error) {
	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, errors.Wrapf(err, "load reservation %s", id)
	}
	if reservation == nil {
		return domain.Reservation{}, errors.Wrapf(domain.ErrReservationNotFound, "id %s", id)
	}
	return *reservation, nil
}
