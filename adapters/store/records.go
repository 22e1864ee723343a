package store

import (
	"time"

	"github.com/layer-3/signet/core"
)

type nonceRecord struct {
	Value     string    `bson:"value"`
	Address   string    `bson:"address,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	ExpiresAt time.Time `bson:"expiresAt"`
	Used      bool      `bson:"used"`
}

type sessionRecord struct {
	ID            string    `bson:"jti"`
	Address       string    `bson:"address"`
	DeviceID      string    `bson:"deviceId"`
	IP            string    `bson:"ip"`
	Status        string    `bson:"status"`
	CreatedAt     time.Time `bson:"createdAt"`
	LastActiveAt  time.Time `bson:"lastActiveAt"`
	ExpiresAt     time.Time `bson:"expiresAt"`
	RevokedReason string    `bson:"revokedReason,omitempty"`
	RevokedAt     time.Time `bson:"revokedAt,omitempty"`
}

type blacklistRecord struct {
	Address   string    `json:"address" bson:"address"`
	SessionID string    `json:"jti" bson:"jti"`
	Reason    string    `json:"reason" bson:"reason"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	ExpiresAt time.Time `json:"expires_at" bson:"expiresAt"`
}

func newSessionRecord(s core.Session) sessionRecord {
	return sessionRecord{
		ID:            s.ID,
		Address:       s.Address,
		DeviceID:      s.DeviceID,
		IP:            s.IP,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
		LastActiveAt:  s.LastActiveAt,
		ExpiresAt:     s.ExpiresAt,
		RevokedReason: s.RevokedReason,
		RevokedAt:     s.RevokedAt,
	}
}

func (r sessionRecord) session() core.Session {
	return core.Session{
		ID:            r.ID,
		Address:       r.Address,
		DeviceID:      r.DeviceID,
		IP:            r.IP,
		Status:        core.SessionStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		LastActiveAt:  r.LastActiveAt,
		ExpiresAt:     r.ExpiresAt,
		RevokedReason: r.RevokedReason,
		RevokedAt:     r.RevokedAt,
	}
}
