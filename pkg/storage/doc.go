// Package storage manages the target directory of a run.
//
// The only durable state gitsnap keeps is the set of <name>.zip files in that
// directory. Archives are streamed into <name>.zip.part and renamed once the
// size and ZIP checks pass, so a completed name never holds a partial file.
// Partial files from an interrupted run are removed when a Manager is created.
//
//	manager, err := storage.NewManager(dir, cfg.Download.ChunkSize)
//	if manager.IsDownloaded(repo.Name) {
//	    // skipped
//	}
//	result, err := manager.Save(repo.Name, body, storage.SaveOptions{
//	    ExpectedSize: resp.ContentLength,
//	    Verify:       true,
//	})
package storage
