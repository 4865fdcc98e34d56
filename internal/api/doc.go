// Package api exposes the HTTP surface of the vitals service: the profile
// CRUD resource, the detailed and compact prediction endpoints, prediction
// history, health and Prometheus metrics.
package api
