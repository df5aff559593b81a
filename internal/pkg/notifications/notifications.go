package notifications

import (
	"github.com/mixhaven/MixHaven/app/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service persists in-app notifications for users.
type Service struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewService(db *gorm.DB, log *logrus.Logger) *Service {
	return &Service{db: db, log: log}
}

// Notify creates an in-app notification. Failures are logged and returned,
// callers on the webhook path treat them as best-effort.
func (s *Service) Notify(userID uint, notifType, content string, refID uint) error {
	if err := models.CreateNotification(s.db, userID, notifType, content, refID); err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"type":    notifType,
		}).WithError(err).Error("Failed to create notification")
		return err
	}
	return nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Service) UnreadCount(userID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkAllRead marks every notification for the user as read.
func (s *Service) MarkAllRead(userID uint) error {
	return s.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
}
