package logstore

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/ctlynx/internal/policy"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

// Log list v3 schema: https://www.gstatic.com/ct/log_list/v3/log_list_schema.json

type listSchema struct {
	Version                   string           `json:"version"`
	LogListTimestamp          time.Time        `json:"log_list_timestamp"`
	CompatibilityVersion      *int             `json:"compatibility_version,omitempty"`
	MinCompatVersionAvailable *int             `json:"min_compat_version_available,omitempty"`
	Operators                 []operatorSchema `json:"operators"`
}

type operatorSchema struct {
	Name  string      `json:"name"`
	Email []string    `json:"email"`
	Logs  []logSchema `json:"logs"`
}

type logSchema struct {
	Description string      `json:"description"`
	LogID       string      `json:"log_id"`
	Key         string      `json:"key"`
	URL         string      `json:"url"`
	MMD         int         `json:"mmd"`
	State       stateSchema `json:"state"`
}

type stateSchema struct {
	Pending   *stateInfo    `json:"pending,omitempty"`
	Qualified *stateInfo    `json:"qualified,omitempty"`
	Usable    *stateInfo    `json:"usable,omitempty"`
	ReadOnly  *readOnlyInfo `json:"readonly,omitempty"`
	Retired   *stateInfo    `json:"retired,omitempty"`
	Rejected  *stateInfo    `json:"rejected,omitempty"`
}

type stateInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

type readOnlyInfo struct {
	Timestamp     time.Time `json:"timestamp"`
	FinalTreeSize int64     `json:"final_tree_size"`
}

// Load parses a log-list v3 JSON document into a Store, evaluating the
// freshness policy at the current time.
func Load(data []byte, logger *logrus.Logger) (*Store, error) {
	return LoadAt(data, time.Now(), logger)
}

// LoadAt is Load with an explicit evaluation time for the freshness state.
func LoadAt(data []byte, at time.Time, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var list listSchema
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("logstore: parse log list: %w", err)
	}

	meta, err := metadataFrom(&list)
	if err != nil {
		return nil, err
	}

	var logs []models.LogInfo
	for _, op := range list.Operators {
		for _, l := range op.Logs {
			info, err := logInfoFrom(op.Name, l)
			if err != nil {
				logger.Warnf("Skipping log %q from %q: %v", l.Description, op.Name, err)
				continue
			}
			logs = append(logs, *info)
		}
	}

	state := models.StoreStateNotCompliant
	if policy.StoreCompliantAt(meta, at) {
		state = models.StoreStateCompliant
	}

	logger.WithFields(logrus.Fields{
		"logs":      len(logs),
		"operators": len(list.Operators),
		"version":   list.Version,
		"state":     state,
	}).Debug("Loaded CT log list")

	return NewStore(logs, meta, state), nil
}

func metadataFrom(list *listSchema) (models.StoreMetadata, error) {
	version, err := semver.NewVersion(list.Version)
	if err != nil {
		return models.StoreMetadata{}, fmt.Errorf("logstore: parse list version %q: %w", list.Version, err)
	}
	if list.LogListTimestamp.IsZero() {
		return models.StoreMetadata{}, fmt.Errorf("logstore: log list has no timestamp")
	}

	meta := models.StoreMetadata{
		Timestamp:    uint64(list.LogListTimestamp.UnixMilli()),
		MajorVersion: int(version.Major()),
		MinorVersion: int(version.Minor()),
	}
	meta.CompatVersion = meta.MajorVersion
	if list.CompatibilityVersion != nil {
		meta.CompatVersion = *list.CompatibilityVersion
	}
	meta.MinCompatVersionAvailable = meta.CompatVersion
	if list.MinCompatVersionAvailable != nil {
		meta.MinCompatVersionAvailable = *list.MinCompatVersionAvailable
	}
	return meta, nil
}

func logInfoFrom(operator string, l logSchema) (*models.LogInfo, error) {
	keyDER, err := base64.StdEncoding.DecodeString(l.Key)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	publicKey, err := x509.ParsePKIXPublicKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}

	info := &models.LogInfo{
		LogID:       sha256.Sum256(keyDER),
		PublicKey:   publicKey,
		KeyDER:      keyDER,
		Description: l.Description,
		URL:         l.URL,
		Operator:    operator,
	}

	// The declared log_id must match the key it rides with; a mismatch
	// means a corrupt or tampered list entry.
	if l.LogID != "" {
		declared, err := base64.StdEncoding.DecodeString(l.LogID)
		if err != nil || string(declared) != string(info.LogID[:]) {
			return nil, fmt.Errorf("log_id does not match SHA-256 of key")
		}
	}

	info.State, info.StateTimestamp = currentState(l.State)
	return info, nil
}

func currentState(s stateSchema) (models.LogState, uint64) {
	switch {
	case s.Usable != nil:
		return models.LogStateUsable, uint64(s.Usable.Timestamp.UnixMilli())
	case s.ReadOnly != nil:
		return models.LogStateReadOnly, uint64(s.ReadOnly.Timestamp.UnixMilli())
	case s.Qualified != nil:
		return models.LogStateQualified, uint64(s.Qualified.Timestamp.UnixMilli())
	case s.Retired != nil:
		return models.LogStateRetired, uint64(s.Retired.Timestamp.UnixMilli())
	case s.Pending != nil:
		return models.LogStatePending, uint64(s.Pending.Timestamp.UnixMilli())
	case s.Rejected != nil:
		return models.LogStateRejected, uint64(s.Rejected.Timestamp.UnixMilli())
	default:
		return models.LogStateUnknown, 0
	}
}
