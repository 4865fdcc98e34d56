// Package vitals is a small Go client for the vitals HTTP API: profile CRUD,
// detailed and compact predictions, and prediction history.
package vitals
