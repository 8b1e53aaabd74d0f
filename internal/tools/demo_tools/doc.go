// Package demo_tools provides the example tools served by toolmeter.
//
// # Available Tools
//
//   - add: adds two numbers (free)
//   - premium_report: generates a short report on a topic (paid)
//
// premium_report is only registered when a payment gateway and a price id
// are configured. Callers who have not paid receive a checkout URL instead
// of the report.
package demo_tools
