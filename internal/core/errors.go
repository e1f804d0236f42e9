package core

import "errors"

// Texts sent to clients in error envelopes.
const (
	MsgBadFormat     = "Неверный формат сообщения"
	MsgBadPayload    = "Неверные данные запроса"
	MsgAuthRequired  = "Требуется аутентификация"
	MsgUnknownType   = "Неизвестный тип сообщения"
	MsgBadAuthAction = "Неверное действие аутентификации"
	MsgRateLimited   = "Слишком много запросов"
	MsgInternal      = "Внутренняя ошибка сервера"
)

var (
	ErrBadPayload = errors.New("bad payload")
	ErrHubStopped = errors.New("hub stopped")
	ErrConnClosed = errors.New("connection closed")
)

