package diagnostics

import (
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
)

type estimateOutput struct {
	Body estimateResponse
}

type estimateResponse struct {
	quota.Estimate
	UsageRatio float64 `json:"usage_ratio" doc:"Доля занятого места, 0 если квота неизвестна"`
}

type persistOutput struct {
	Body struct {
		Granted bool `json:"granted" doc:"Получено ли разрешение на постоянное хранение"`
	}
}

type statusOutput struct {
	Body struct {
		Online  bool             `json:"online"`
		Storage estimateResponse `json:"storage"`
	}
}

type syncOutput struct {
	Body struct {
		Mutations mutation.ProcessReport `json:"mutations"`
		Photos    photo.ProcessReport    `json:"photos"`
	}
}
