package telegraph

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/models"
	"gorm.io/gorm"
)

// Directory maps platform identifiers to the integer ids sessions use.
type Directory interface {
	// ID returns the integer id of a platform identifier, assigning one if
	// needed.
	ID(ctx context.Context, external string) (int64, error)
	// External returns the platform identifier behind id.
	External(ctx context.Context, id int64) (string, error)
}

// NumericDirectory serves platforms whose identifiers are already integers,
// such as Discord snowflakes.
type NumericDirectory struct{}

func (NumericDirectory) ID(_ context.Context, external string) (int64, error) {
	id, err := strconv.ParseInt(external, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegraph: directory: %q is not numeric", external)
	}
	return id, nil
}

func (NumericDirectory) External(_ context.Context, id int64) (string, error) {
	return strconv.FormatInt(id, 10), nil
}

// GormDirectory assigns ids to opaque identifiers (Slack's "C0123", "U0456")
// and persists them in the platform_identities table.
type GormDirectory struct {
	db       *gorm.DB
	platform string

	mu    sync.RWMutex
	byExt map[string]int64
	byID  map[int64]string
}

// NewGormDirectory returns a GormDirectory for platform.
func NewGormDirectory(db *gorm.DB, platform string) (*GormDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("telegraph: directory: db is required")
	}
	if platform == "" {
		return nil, fmt.Errorf("telegraph: directory: platform is required")
	}
	return &GormDirectory{
		db:       db,
		platform: platform,
		byExt:    make(map[string]int64),
		byID:     make(map[int64]string),
	}, nil
}

func (d *GormDirectory) ID(ctx context.Context, external string) (int64, error) {
	if external == "" {
		return 0, fmt.Errorf("telegraph: directory: empty identifier")
	}
	d.mu.RLock()
	id, ok := d.byExt[external]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	row := models.PlatformIdentity{Platform: d.platform, ExternalID: external}
	err := d.db.WithContext(ctx).
		Where(&models.PlatformIdentity{Platform: d.platform, ExternalID: external}).
		FirstOrCreate(&row).Error
	if err != nil {
		return 0, fmt.Errorf("telegraph: directory: resolve %q: %w", external, err)
	}
	d.remember(row.ID, external)
	return row.ID, nil
}

func (d *GormDirectory) External(ctx context.Context, id int64) (string, error) {
	d.mu.RLock()
	ext, ok := d.byID[id]
	d.mu.RUnlock()
	if ok {
		return ext, nil
	}

	var row models.PlatformIdentity
	err := d.db.WithContext(ctx).
		Where("id = ? AND platform = ?", id, d.platform).
		First(&row).Error
	if err != nil {
		return "", fmt.Errorf("telegraph: directory: lookup %d: %w", id, err)
	}
	d.remember(row.ID, row.ExternalID)
	return row.ExternalID, nil
}

func (d *GormDirectory) remember(id int64, external string) {
	d.mu.Lock()
	d.byExt[external] = id
	d.byID[id] = external
	d.mu.Unlock()
}
