package api

import (
	"context"

	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/export"
	"github.com/feedward/feedward/app/feed"
	"github.com/feedward/feedward/app/harvest"
	"github.com/feedward/feedward/app/tasks"
	"github.com/feedward/feedward/app/webfeed"
)

type GeneratorInterface interface {
	Run(channel feed.ChannelInfo, articles []database.Article) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

type FetcherInterface interface {
	Run(ctx context.Context, opts webfeed.FetchOptions, expectedStatus int) (*harvest.Response, error)
}

var _ FetcherInterface = (*harvest.Fetcher)(nil)

type TransformerInterface interface {
	Run(html []byte, homePageURL string, selectors webfeed.Selectors) (*feed.RichFeed, error)
}

var _ TransformerInterface = (*webfeed.Transformer)(nil)

type Handler struct {
	feedRepo     database.FeedRepository
	articleRepo  database.ArticleRepository
	exporterRepo database.ExporterRepository
	generator    GeneratorInterface
	cache        *export.RenderCache
	fetcher      FetcherInterface
	transformer  TransformerInterface
	harvester    tasks.HarvesterInterface
	scheduler    tasks.TaskSchedulerInterface
}
