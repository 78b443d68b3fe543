// Package domain holds the data model shared by the batch engine, its adapters and the API:
// step identities, per-step outcomes, the aggregate batch result, graph validation errors,
// progress events and the serializable batch report.
package domain
