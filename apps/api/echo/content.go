package echoapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/content"
	"github.com/trezcool/darasa/core/user"
)

type contentApi struct {
	svc      content.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerContentAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc content.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
) {
	api := contentApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
	}

	cg := g.Group("/content")

	// the approved catalog is public
	cg.GET("/catalog", api.catalog)

	// authed endpoints
	ag := cg.Group("", jwt)
	ag.POST("", api.create)
	ag.GET("/mine", api.mine)
	ag.GET("", api.query, reviewerMiddleware())
	ag.GET("/counts", api.queueCounts, reviewerMiddleware())
	ag.POST("/bulk-decide", api.bulkDecide, reviewerMiddleware())

	// detail endpoints
	dg := ag.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/submit", api.submit)
	dg.POST("/resubmit", api.resubmit)
	dg.POST("/claim", api.claim, reviewerMiddleware())
	dg.POST("/approve", api.approve, reviewerMiddleware())
	dg.POST("/reject", api.reject, reviewerMiddleware())
	dg.POST("/request-revision", api.requestRevision, reviewerMiddleware())
	dg.PUT("/priority", api.setPriority, reviewerMiddleware())
}

// Handlers

func (api *contentApi) create(ctx echo.Context) error {
	var data content.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := api.svc.CreateDraft(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *contentApi) catalog(ctx echo.Context) error {
	filter := new(content.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []content.Submission{})
	}
	filter.Clean()
	page := new(Pagination)
	page.Bind(ctx)

	subs, err := api.svc.QueryCatalog(ctx.Request().Context(), filter, page.Page)
	if err != nil {
		return errors.Wrap(err, "querying catalog")
	}
	if subs == nil {
		subs = []content.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *contentApi) query(ctx echo.Context) error {
	filter := new(content.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []content.Submission{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)
	page := new(Pagination)
	page.Bind(ctx)

	subs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings, page.Page)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []content.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

// mine lists the authenticated user's own submissions, whatever their status.
func (api *contentApi) mine(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := new(content.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		filter = new(content.QueryFilter)
	}
	filter.Clean()
	filter.AuthorID = ctxUsr.ID
	page := new(Pagination)
	page.Bind(ctx)

	subs, err := api.svc.Query(ctx.Request().Context(), filter, []core.DBOrdering{{Field: "created_at", Ascending: false}}, page.Page)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []content.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *contentApi) queueCounts(ctx echo.Context) error {
	counts, err := api.svc.QueueCounts(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "counting submissions")
	}
	return ctx.JSON(http.StatusOK, counts)
}

func (api *contentApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := api.svc.Get(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return api.jsonWithVersion(ctx, http.StatusOK, sub)
}

func (api *contentApi) update(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	orig, err := api.svc.Get(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}

	var data content.UpdateSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSubmission")
	}
	if err := data.Validate(orig, api.validate); err != nil {
		return err
	}

	// a stale If-Match fails fast before hitting the store
	if match := ctx.Request().Header.Get("If-Match"); match != "" {
		if match != strconv.Itoa(orig.Version) {
			return content.ErrVersionConflict
		}
	}

	sub, err := api.svc.Update(ctx.Request().Context(), ctxUsr, orig.ID, data)
	if err != nil {
		return err
	}
	return api.jsonWithVersion(ctx, http.StatusOK, sub)
}

func (api *contentApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *contentApi) submit(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Submit)
}

func (api *contentApi) resubmit(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Resubmit)
}

func (api *contentApi) claim(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Claim)
}

func (api *contentApi) approve(ctx echo.Context) error {
	return api.transition(ctx, api.svc.Approve)
}

func (api *contentApi) transition(
	ctx echo.Context,
	op func(ctx context.Context, actor user.User, id string) (content.Submission, error),
) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := op(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return api.jsonWithVersion(ctx, http.StatusOK, sub)
}

func (api *contentApi) reject(ctx echo.Context) error {
	return api.decide(ctx, api.svc.Reject)
}

func (api *contentApi) requestRevision(ctx echo.Context) error {
	return api.decide(ctx, api.svc.RequestRevision)
}

func (api *contentApi) decide(
	ctx echo.Context,
	op func(ctx context.Context, actor user.User, id, feedback string) (content.Submission, error),
) error {
	var data FeedbackRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FeedbackRequest")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := op(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data.Feedback)
	if err != nil {
		return err
	}
	return api.jsonWithVersion(ctx, http.StatusOK, sub)
}

func (api *contentApi) setPriority(ctx echo.Context) error {
	var data PriorityRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PriorityRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := api.svc.SetPriority(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data.Priority)
	if err != nil {
		return err
	}
	return api.jsonWithVersion(ctx, http.StatusOK, sub)
}

func (api *contentApi) bulkDecide(ctx echo.Context) error {
	var data content.BulkDecision
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkDecision")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	results := api.svc.BulkDecide(ctx.Request().Context(), ctxUsr, data)
	return ctx.JSON(http.StatusOK, results)
}

// jsonWithVersion exposes the submission version as an ETag so clients can
// detect concurrent edits with If-Match.
func (api *contentApi) jsonWithVersion(ctx echo.Context, code int, sub content.Submission) error {
	ctx.Response().Header().Set("ETag", strconv.Itoa(sub.Version))
	return ctx.JSON(code, sub)
}

type (
	FeedbackRequest struct {
		Feedback string `json:"feedback"`
	}

	PriorityRequest struct {
		Priority content.Priority `json:"priority" validate:"required,priority"`
	}
)

func (pr *PriorityRequest) Validate(validate *validator.Validate) error {
	pr.Priority = content.Priority(core.CleanString(string(pr.Priority), true /* lower */))
	return validate.Struct(pr)
}
