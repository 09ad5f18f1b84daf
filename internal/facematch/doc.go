// Package facematch holds the small geometric and naming helpers used when
// ingesting detections and registering persons.
package facematch
