package health

// Input входные данные проверки работоспособности
type Input struct{}

// Output ответ проверки работоспособности
type Output struct {
	Body Response
}

type Response struct {
	Status string `json:"status" example:"OK" doc:"Состояние агента"`
	Online bool   `json:"online" doc:"Доступен ли удаленный API по последней проверке"`
}
