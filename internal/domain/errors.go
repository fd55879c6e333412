package domain

import "errors"

// ErrManagerClosed indicates the dispatch loop has exited and will not accept items
var ErrManagerClosed = errors.New("download manager closed")

// ErrWorkerBusy indicates an assignment was made to a worker that still owns an item
var ErrWorkerBusy = errors.New("worker already has an item")

// ErrWorkerClosed indicates the worker loop has terminated
var ErrWorkerClosed = errors.New("worker closed")

// ErrToolMissing indicates the downloader binary could not be found or installed
var ErrToolMissing = errors.New("downloader binary not found")

// ErrNotFound indicates a missing history record
var ErrNotFound = errors.New("record not found")

// ErrNoActiveRun indicates there is no running download batch to act on
var ErrNoActiveRun = errors.New("no active download run")
