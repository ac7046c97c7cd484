package entity

import (
	"encoding/json"
	"time"
)

const (
	// DefaultRetention окно, после которого незакрепленная запись считается устаревшей
	DefaultRetention = 7 * 24 * time.Hour
)

// DefaultLimits потолки количества незакрепленных записей по типам
var DefaultLimits = map[Type]int{
	TypeProperty:  50,
	TypeUnit:      200,
	TypeWorkOrder: 500,
	TypeTask:      1000,
	TypeNote:      1000,
}

// CachedEntity локальный снимок удаленного объекта
type CachedEntity struct {
	ID         int64           `json:"id"`
	EntityType Type            `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ParentType *Type           `json:"parent_type,omitempty"`
	ParentID   *string         `json:"parent_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	CachedAt   time.Time       `json:"cached_at"`
	ViewedAt   time.Time       `json:"viewed_at"`
	Pinned     bool            `json:"pinned"`
}

// Validate проверяет обязательные поля записи.
func (e *CachedEntity) Validate() error {
	if err := e.EntityType.Validate(); err != nil {
		return err
	}
	if e.EntityID == "" {
		return ErrInvalidEntity
	}
	if e.ParentType != nil {
		if err := e.ParentType.Validate(); err != nil {
			return err
		}
		if e.ParentID == nil || *e.ParentID == "" {
			return ErrInvalidEntity
		}
	}
	if len(e.Data) == 0 || !json.Valid(e.Data) {
		return ErrInvalidEntity
	}
	return nil
}

// Child дочерняя сущность, загружаемая вместе с родителем
type Child struct {
	EntityType Type            `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
}

// Config настройки менеджера кэша
type Config struct {
	Retention time.Duration
	Limits    map[Type]int
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	limits := make(map[Type]int, len(DefaultLimits))
	for t, l := range DefaultLimits {
		limits[t] = l
	}
	return Config{
		Retention: DefaultRetention,
		Limits:    limits,
	}
}

func (c Config) limit(t Type) int {
	if l, ok := c.Limits[t]; ok && l >= 0 {
		return l
	}
	return DefaultLimits[t]
}

// EvictionReport результат прохода вытеснения
type EvictionReport struct {
	Stale  int          `json:"stale"`
	ByType map[Type]int `json:"by_type,omitempty"`
}

// Total общее число удаленных записей
func (r EvictionReport) Total() int {
	total := r.Stale
	for _, n := range r.ByType {
		total += n
	}
	return total
}

// TypeStats статистика кэша по одному типу
type TypeStats struct {
	EntityType Type `json:"entity_type"`
	Count      int  `json:"count"`
	Pinned     int  `json:"pinned"`
	Limit      int  `json:"limit"`
}

// Result исход операции кэша. Кэш - слой оптимизации, поэтому ошибки не
// пробрасываются вызывающему коду, а возвращаются здесь: их можно проверить,
// но обрабатывать не обязательно.
type Result struct {
	Err       error
	Evicted   int
	Persisted bool
}

// OK сообщает, завершилась ли операция без ошибок.
func (r Result) OK() bool {
	return r.Err == nil
}
