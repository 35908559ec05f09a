// Package eventsink delivers session events to the structured log, the MQTT
// session feed, InfluxDB and the SQLite audit trail.
//
// Sinks implement session.EventSink and never block the session layer. The
// MQTT and audit sinks queue events and deliver them from Run; combine sinks
// with Multi.
package eventsink
