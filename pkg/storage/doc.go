// Package storage persists scrape results.
//
// A ResultSet maps each keyword to its records and serializes as a JSON
// object whose keys keep the configured keyword order. FileStore writes it
// atomically; MongoSink upserts the same records into a MongoDB collection.
package storage
