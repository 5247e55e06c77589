// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package workflow

// DefaultTemplates returns the built-in named workflow definitions.
// Configuration may add to or replace these.
func DefaultTemplates() map[string]*Definition {
	templates := map[string]*Definition{
		"data_pipeline": {
			Name:        "Data Processing Pipeline",
			Description: "Process data through multiple stages",
			Steps: []Step{
				{
					Name:       "fetch_data",
					Type:       StepAction,
					ActionType: "api_call",
					Parameters: map[string]interface{}{
						"endpoint": "{{data_source}}",
						"method":   "GET",
					},
				},
				{
					Name:       "process_data",
					Type:       StepAction,
					ActionType: "data_update",
					Parameters: map[string]interface{}{
						"table":     "data_streams",
						"operation": "insert",
						"update": map[string]interface{}{
							"source":       "{{data_source}}",
							"processed_at": "{{timestamp}}",
						},
					},
				},
				{
					Name:       "send_notification",
					Type:       StepAction,
					ActionType: "alert",
					Parameters: map[string]interface{}{
						"channel": "slack",
						"message": "Data processing completed successfully",
					},
				},
			},
		},
		"monitoring_alert": {
			Name:        "Monitoring Alert Workflow",
			Description: "Handle monitoring alerts with escalation",
			Steps: []Step{
				{
					Name:       "initial_alert",
					Type:       StepAction,
					ActionType: "alert",
					Parameters: map[string]interface{}{
						"channel":  "slack",
						"message":  "Monitoring alert triggered: {{alert_message}}",
						"priority": "high",
					},
				},
				{
					Name: "check_status",
					Type: StepDelay,
					Parameters: map[string]interface{}{
						"seconds": 300.0,
					},
				},
				{
					Name: "escalate_if_needed",
					Type: StepCondition,
					Condition: &Condition{
						Left:     "{{still_alerting}}",
						Operator: "==",
						Right:    "true",
					},
					IfTrue: map[string]interface{}{
						"type":        "action",
						"action_type": "alert",
						"parameters": map[string]interface{}{
							"channel":  "email",
							"message":  "ALERT ESCALATION: Issue not resolved",
							"priority": "critical",
						},
					},
					IfFalse: map[string]interface{}{
						"type":        "action",
						"action_type": "alert",
						"parameters": map[string]interface{}{
							"channel":  "slack",
							"message":  "Alert resolved",
							"priority": "low",
						},
					},
				},
			},
		},
	}

	for _, def := range templates {
		def.applyDefaults()
	}
	return templates
}
