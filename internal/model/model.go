package model

import (
	"github.com/LeonardoBeccarini/irrigate/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigate/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Zone          = entities.Zone
	WaterSource   = entities.WaterSource
	WeatherSample = messages.WeatherSample
	WateringEvent = messages.WateringEvent
	Outcome       = messages.Outcome
)

const (
	SourceBarrel = entities.SourceBarrel
	SourceMains  = entities.SourceMains

	OutcomeCompleted = messages.OutcomeCompleted
	OutcomeTimedOut  = messages.OutcomeTimedOut
	OutcomeAborted   = messages.OutcomeAborted
)
