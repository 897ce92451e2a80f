// Package alerts implements the rule evaluation engine and webhook delivery
// for tamper alerting. Rules are evaluated against package records as
// readings are accepted; webhooks are delivered to Teams, Slack, PagerDuty,
// or generic HTTP targets.
package alerts
