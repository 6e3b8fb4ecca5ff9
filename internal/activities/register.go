package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListChapterFilesActivity)
	w.RegisterActivity(a.ComputeChapterIDActivity)
	w.RegisterActivity(a.UpdateChapterStatusActivity)
	w.RegisterActivity(a.LoadChapterActivity)
	w.RegisterActivity(a.ExtractTOCActivity)
	w.RegisterActivity(a.ExpandTOCActivity)
	w.RegisterActivity(a.ChunkActivity)
	w.RegisterActivity(a.ValidateActivity)
	w.RegisterActivity(a.DetectReferencesActivity)
	w.RegisterActivity(a.PublishChapterActivity)
	w.RegisterActivity(a.SyncGraphMirrorActivity)
	w.RegisterActivity(a.WriteChapterArtifactsActivity)
	w.RegisterActivity(a.MarkChapterPublishedActivity)
	w.RegisterActivity(a.ListFailedChaptersActivity)
	w.RegisterActivity(a.WriteTextbookSummaryActivity)
}
