package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"campaign-mailer-go/internal/model"
)

// ErrMessageNotFound is returned when an event references an unknown message
var ErrMessageNotFound = errors.New("sent message not found")

// DuplicateTokenError reports a beacon token collision
type DuplicateTokenError struct {
	Token string
}

// Error implements the error interface.
func (e *DuplicateTokenError) Error() string {
	return fmt.Sprintf("beacon token %s already in use", e.Token)
}

// Repository is the tracking store. It is safe for concurrent use.
type Repository struct {
	db       *gorm.DB
	now      func() time.Time
	newToken func() string
}

// New creates a tracking store on top of an initialized database
func New(db *gorm.DB) *Repository {
	return &Repository{
		db:       db,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// RegisterSend records a message accepted for sending and returns its id
func (r *Repository) RegisterSend(ctx context.Context, recipient, templateID, campaignID string, metadata map[string]string) (string, error) {
	msg := model.SentMessage{
		ID:             uuid.NewString(),
		CampaignID:     campaignID,
		RecipientEmail: recipient,
		TemplateID:     templateID,
		SentAt:         r.now(),
		Status:         model.StatusSent,
	}

	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("failed to encode message metadata: %w", err)
		}
		msg.Metadata = string(raw)
	}

	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return "", fmt.Errorf("failed to track email send: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"message_id":  msg.ID,
		"campaign_id": campaignID,
		"recipient":   recipient,
	}).Debug("Tracked email send")
	return msg.ID, nil
}

// GetMessage returns a sent message by id
func (r *Repository) GetMessage(ctx context.Context, messageID string) (*model.SentMessage, error) {
	var msg model.SentMessage
	err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return &msg, nil
}

// MintBeaconToken binds a fresh beacon token to a message. A message keeps its
// first token: minting again returns the existing one.
func (r *Repository) MintBeaconToken(ctx context.Context, messageID string) (string, error) {
	db := r.db.WithContext(ctx)
	token := r.newToken()

	var taken int64
	if err := db.Model(&model.SentMessage{}).Where("beacon_token = ?", token).Count(&taken).Error; err != nil {
		return "", fmt.Errorf("failed to check beacon token: %w", err)
	}
	if taken > 0 {
		return "", &DuplicateTokenError{Token: token}
	}

	res := db.Model(&model.SentMessage{}).
		Where("id = ? AND beacon_token IS NULL", messageID).
		Update("beacon_token", token)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return "", &DuplicateTokenError{Token: token}
	}
	if res.Error != nil {
		return "", fmt.Errorf("failed to create tracking pixel: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		msg, err := r.GetMessage(ctx, messageID)
		if err != nil {
			return "", err
		}
		if msg.BeaconToken != nil {
			return *msg.BeaconToken, nil
		}
		return "", fmt.Errorf("failed to create tracking pixel for message %s", messageID)
	}

	return token, nil
}

// RecordOpen records a beacon hit. It never fails: unknown tokens and write
// errors are logged, since the caller is public traffic.
func (r *Repository) RecordOpen(ctx context.Context, token, userAgent, rawAddress string) bool {
	db := r.db.WithContext(ctx)
	log := logrus.WithField("token", token)

	var msg model.SentMessage
	err := db.Select("id").Where("beacon_token = ?", token).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("Open for unknown beacon token ignored")
		return false
	}
	if err != nil {
		log.Warnf("Failed to resolve beacon token: %v", err)
		return false
	}

	info := ClassifyUserAgent(userAgent)
	open := model.OpenEvent{
		ID:         uuid.NewString(),
		MessageID:  msg.ID,
		OpenedAt:   r.now(),
		UserAgent:  userAgent,
		IPHash:     HashAddress(rawAddress),
		DeviceType: info.Device,
		Browser:    info.Browser,
		OS:         info.OS,
	}
	if err := db.Create(&open).Error; err != nil {
		log.Warnf("Failed to track email open: %v", err)
		return false
	}

	log.WithField("message_id", msg.ID).Debug("Tracked email open")
	return true
}

// RecordClick records a tracked-link hit
func (r *Repository) RecordClick(ctx context.Context, messageID, url, userAgent, rawAddress string) error {
	if _, err := r.GetMessage(ctx, messageID); err != nil {
		return err
	}

	click := model.ClickEvent{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		URL:        url,
		ClickedAt:  r.now(),
		UserAgent:  userAgent,
		IPHash:     HashAddress(rawAddress),
		DeviceType: ClassifyUserAgent(userAgent).Device,
	}
	if err := r.db.WithContext(ctx).Create(&click).Error; err != nil {
		return fmt.Errorf("failed to track link click: %w", err)
	}

	logrus.WithField("message_id", messageID).Debug("Tracked link click")
	return nil
}

// RecordBounce records a delivery failure and marks the message bounced. The
// latest bounce overwrites the message's bounce type and detail.
func (r *Repository) RecordBounce(ctx context.Context, messageID, bounceType, reason, description string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.SentMessage{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrMessageNotFound
		}

		err := tx.Model(&model.SentMessage{}).Where("id = ?", messageID).Updates(map[string]interface{}{
			"status":      model.StatusBounced,
			"bounce_type": bounceType,
			"bounce_info": reason,
		}).Error
		if err != nil {
			return err
		}

		return tx.Create(&model.BounceEvent{
			ID:          uuid.NewString(),
			MessageID:   messageID,
			BouncedAt:   r.now(),
			BounceType:  bounceType,
			Reason:      reason,
			Description: description,
		}).Error
	})
	if errors.Is(err, ErrMessageNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to track bounce: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"message_id":  messageID,
		"bounce_type": bounceType,
	}).Info("Tracked bounce")
	return nil
}
