// Package crawler defines the core types shared across the directory crawler:
// crawl targets, partially extracted fields, persisted server records, and the
// storage and extraction interfaces the pipeline is assembled from.
package crawler
