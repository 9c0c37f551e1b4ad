package model

import "strings"

// Turn is one message of the conversation history, oldest first
type Turn struct {
	Role    string `json:"role" validate:"omitempty,oneof=user assistant system"`
	Content string `json:"content" validate:"max=5000"`
}

// Query is a user question plus the recent conversation that led to it
type Query struct {
	Text    string `json:"query"`
	History []Turn `json:"history,omitempty"`
}

// Intent classifies what the user is trying to do
type Intent string

const (
	IntentQuestion   Intent = "question"
	IntentFollowUp   Intent = "follow_up"
	IntentComparison Intent = "comparison"
	IntentExplain    Intent = "explain"
	IntentProcedural Intent = "procedural"
	IntentGreet      Intent = "greet"

	// IntentFees is never produced by the router; the synthesizer derives it
	// from the query when the user asks about costs.
	IntentFees Intent = "fees"
)

// Valid reports whether the intent is one the router may emit
func (i Intent) Valid() bool {
	switch i {
	case IntentQuestion, IntentFollowUp, IntentComparison, IntentExplain, IntentProcedural, IntentGreet:
		return true
	}
	return false
}

// Format is the requested output shape of the answer
type Format string

const (
	FormatShortAnswer  Format = "short_answer"
	FormatBulletPoints Format = "bullet_points"
	FormatTable        Format = "table"
	FormatStepByStep   Format = "step_by_step"
)

// Valid reports whether the format is known
func (f Format) Valid() bool {
	switch f {
	case FormatShortAnswer, FormatBulletPoints, FormatTable, FormatStepByStep:
		return true
	}
	return false
}

// RoutedQuery is the router's view of a query
type RoutedQuery struct {
	RefinedQuery string `json:"refined_query"`
	Intent       Intent `json:"intent"`
	Format       Format `json:"format"`
}

// DefaultRoutedQuery is what routing falls back to when classification fails
func DefaultRoutedQuery(raw string) RoutedQuery {
	return RoutedQuery{
		RefinedQuery: strings.TrimSpace(raw),
		Intent:       IntentQuestion,
		Format:       FormatShortAnswer,
	}
}
