package model

import "encoding/json"

// AnswerRequest stores the raw text typed for one task.
type AnswerRequest struct {
	Answer string `json:"answer" binding:"max=2000"`
}

// StudentRequest updates the identity fields of an attempt.
type StudentRequest struct {
	Name  string `json:"name" binding:"max=200"`
	Class string `json:"class" binding:"max=50"`
}

// NavigateRequest moves the task cursor by Delta or to Index.
type NavigateRequest struct {
	Delta *int `json:"delta" binding:"required_without=Index"`
	Index *int `json:"index" binding:"omitempty,min=0"`
}

// RedeemResetRequest carries a reset code typed by the student.
type RedeemResetRequest struct {
	Code string `json:"code" binding:"required,min=3,max=64"`
}

// ConsoleListRequest asks the result service for a filtered list.
type ConsoleListRequest struct {
	Subject string `json:"subject" binding:"max=64"`
	Variant string `json:"variant" binding:"max=64"`
	Class   string `json:"cls" binding:"max=50"`
	Query   string `json:"query" binding:"max=200"`
	Limit   int    `json:"limit" binding:"omitempty,min=1,max=1000"`
}

// ConsoleFilterRequest re-applies the local text filter.
type ConsoleFilterRequest struct {
	Query string `json:"query" binding:"max=200"`
}

// AutocheckRequest regrades records against an answer key of unknown shape.
type AutocheckRequest struct {
	Keys      []string        `json:"keys" binding:"required,min=1,max=200,dive,required"`
	AnswerKey json.RawMessage `json:"answer_key"`
}

// VoidRequest annuls submitted records.
type VoidRequest struct {
	Keys []string `json:"keys" binding:"required,min=1,max=500,dive,required"`
}

// ResetCodeRequest mints a reset code for one student's attempt.
type ResetCodeRequest struct {
	Subject string `json:"subject" binding:"required,max=64"`
	Variant string `json:"variant" binding:"required,max=64"`
	Class   string `json:"cls" binding:"required,max=50"`
	FIO     string `json:"fio" binding:"required,max=200"`
}

// TimerRequest sets the instructor time limit.
type TimerRequest struct {
	Subject          string  `json:"subject" binding:"required,max=64"`
	Variant          string  `json:"variant" binding:"max=64"`
	TimeLimitMinutes float64 `json:"time_limit_minutes" binding:"min=0,max=600"`
}
