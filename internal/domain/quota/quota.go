// Package quota описывает согласование постоянного хранения и оценку
// занимаемого локальным хранилищем места.
package quota

import (
	"context"
)

// Estimate оценка использования локального хранилища
type Estimate struct {
	Usage      int64 `json:"usage" doc:"Занято байт"`
	Quota      int64 `json:"quota" doc:"Доступно байт всего, 0 если неизвестно"`
	Persisted  bool  `json:"persisted" doc:"Получено ли разрешение на постоянное хранение"`
	Entities   int   `json:"entities"`
	Mutations  int   `json:"mutations"`
	Photos     int   `json:"photos"`
	PhotoBytes int64 `json:"photo_bytes"`
}

// UsageRatio доля занятого места от квоты, 0 если квота неизвестна.
func (e Estimate) UsageRatio() float64 {
	if e.Quota <= 0 {
		return 0
	}
	return float64(e.Usage) / float64(e.Quota)
}

// Persister согласует с хост-окружением постоянное хранение данных
// и сообщает оценку занятого места.
type Persister interface {
	// Persist запрашивает постоянное хранение. false без ошибки означает отказ.
	Persist(ctx context.Context) (bool, error)
	// Persisted сообщает, было ли разрешение получено ранее.
	Persisted(ctx context.Context) (bool, error)
	// Estimate возвращает текущую оценку использования хранилища.
	Estimate(ctx context.Context) (Estimate, error)
}
