package store

import (
	"encoding/json"

	"github.com/sequencehq/engine/internal/types"
)

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalJSON(data string, v interface{}) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}

func leadToModel(l types.Lead) LeadModel {
	return LeadModel{
		ID:               l.ID,
		Email:            l.Email,
		Name:             l.Name,
		Country:          l.Country,
		City:             l.City,
		Timezone:         l.Timezone,
		Status:           l.Status,
		Score:            l.Score,
		Tags:             marshalJSON(l.Tags),
		FrozenUntil:      l.FrozenUntil,
		FollowupsPaused:  l.FollowupsPaused,
		SkippedFollowups: marshalJSON(l.SkippedFollowups),
		TerminalState:    string(l.TerminalState),
		TerminalStateAt:  l.TerminalStateAt,
		TerminalReason:   l.TerminalReason,
		IsInFailure:      l.IsInFailure,
		TotalRetries:     l.TotalRetries,
		EmailsSent:       l.EmailsSent,
		EmailsOpened:     l.EmailsOpened,
		EmailsClicked:    l.EmailsClicked,
		EmailsBounced:    l.EmailsBounced,
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}
}

func modelToLead(m LeadModel) types.Lead {
	l := types.Lead{
		ID:              m.ID,
		Email:           m.Email,
		Name:            m.Name,
		Country:         m.Country,
		City:            m.City,
		Timezone:        m.Timezone,
		Status:          m.Status,
		Score:           m.Score,
		FrozenUntil:     m.FrozenUntil,
		FollowupsPaused: m.FollowupsPaused,
		TerminalState:   types.TerminalState(m.TerminalState),
		TerminalStateAt: m.TerminalStateAt,
		TerminalReason:  m.TerminalReason,
		IsInFailure:     m.IsInFailure,
		TotalRetries:    m.TotalRetries,
		EmailsSent:      m.EmailsSent,
		EmailsOpened:    m.EmailsOpened,
		EmailsClicked:   m.EmailsClicked,
		EmailsBounced:   m.EmailsBounced,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	unmarshalJSON(m.Tags, &l.Tags)
	unmarshalJSON(m.SkippedFollowups, &l.SkippedFollowups)
	return l
}

func jobToModel(j types.Job) JobModel {
	return JobModel{
		ID:              j.ID,
		LeadID:          j.LeadID,
		Type:            j.Type,
		Category:        string(j.Category),
		Status:          j.Status,
		ScheduledFor:    j.ScheduledFor,
		SentAt:          j.SentAt,
		FailedAt:        j.FailedAt,
		RetryCount:      j.RetryCount,
		LastError:       j.LastError,
		TemplateID:      j.TemplateID,
		Condition:       marshalJSON(j.Condition),
		IdempotencyKey:  j.IdempotencyKey,
		Metadata:        marshalJSON(j.Metadata),
		PausedReason:    j.PausedReason,
		PausedByJobType: j.PausedByJobType,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func modelToJob(m JobModel) types.Job {
	j := types.Job{
		ID:              m.ID,
		LeadID:          m.LeadID,
		Type:            m.Type,
		Category:        types.MailCategory(m.Category),
		Status:          m.Status,
		ScheduledFor:    m.ScheduledFor,
		SentAt:          m.SentAt,
		FailedAt:        m.FailedAt,
		RetryCount:      m.RetryCount,
		LastError:       m.LastError,
		TemplateID:      m.TemplateID,
		IdempotencyKey:  m.IdempotencyKey,
		PausedReason:    m.PausedReason,
		PausedByJobType: m.PausedByJobType,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.Condition != "" {
		var cond types.Condition
		unmarshalJSON(m.Condition, &cond)
		j.Condition = &cond
	}
	unmarshalJSON(m.Metadata, &j.Metadata)
	return j
}

func settingsToModel(id uint, s types.Settings) SettingsModel {
	return SettingsModel{
		ID:            id,
		BusinessHours: marshalJSON(s.BusinessHours),
		RateLimit:     marshalJSON(s.RateLimit),
		Retry:         marshalJSON(s.Retry),
		PausedDates:   marshalJSON(s.PausedDates),
		Followups:     marshalJSON(s.Followups),
	}
}

func modelToSettings(m SettingsModel) types.Settings {
	var s types.Settings
	unmarshalJSON(m.BusinessHours, &s.BusinessHours)
	unmarshalJSON(m.RateLimit, &s.RateLimit)
	unmarshalJSON(m.Retry, &s.Retry)
	unmarshalJSON(m.PausedDates, &s.PausedDates)
	unmarshalJSON(m.Followups, &s.Followups)
	return s
}

func conditionalEmailToModel(c types.ConditionalEmail) ConditionalEmailModel {
	return ConditionalEmailModel{
		ID:            c.ID,
		Name:          c.Name,
		TriggerEvent:  c.TriggerEvent,
		TriggerStep:   c.TriggerStep,
		DelayHours:    c.DelayHours,
		TemplateID:    c.TemplateID,
		CancelPending: c.CancelPending,
		Priority:      c.Priority,
		Enabled:       c.Enabled,
	}
}

func modelToConditionalEmail(m ConditionalEmailModel) types.ConditionalEmail {
	return types.ConditionalEmail{
		ID:            m.ID,
		Name:          m.Name,
		TriggerEvent:  m.TriggerEvent,
		TriggerStep:   m.TriggerStep,
		DelayHours:    m.DelayHours,
		TemplateID:    m.TemplateID,
		CancelPending: m.CancelPending,
		Priority:      m.Priority,
		Enabled:       m.Enabled,
	}
}

func notificationToModel(n types.Notification) NotificationModel {
	return NotificationModel{
		ID:           n.ID,
		LeadID:       n.LeadID,
		JobID:        n.JobID,
		Kind:         n.Kind,
		Message:      n.Message,
		CreatedAt:    n.CreatedAt,
		Acknowledged: n.Acknowledged,
	}
}

func emailScheduleToModel(s types.EmailSchedule) EmailScheduleModel {
	return EmailScheduleModel{
		LeadID:              s.LeadID,
		InitialScheduledFor: s.InitialScheduledFor,
		InitialStatus:       s.InitialStatus,
		NextScheduledEmail:  s.NextScheduledEmail,
		Followups:           marshalJSON(s.Followups),
	}
}
