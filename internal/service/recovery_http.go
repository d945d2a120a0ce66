package service

import (
	"context"
	"strconv"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names, used by middleware selectors and request logs.
const (
	OperationRecover                = "/oauthguard.v1.Recovery/Recover"
	OperationListCircuits           = "/oauthguard.v1.Recovery/ListCircuits"
	OperationRefreshCheck           = "/oauthguard.v1.Recovery/RefreshCheck"
	OperationListNotifications      = "/oauthguard.v1.Recovery/ListNotifications"
	OperationDismissNotification    = "/oauthguard.v1.Recovery/DismissNotification"
	OperationListAdminNotifications = "/oauthguard.v1.Recovery/ListAdminNotifications"
)

// RegisterRecoveryHTTPServer 注册 HTTP 路由
func RegisterRecoveryHTTPServer(s *http.Server, srv *RecoveryService) {
	r := s.Route("/")
	r.POST("/v1/recover", recoverHandler(srv))
	r.GET("/v1/circuits", listCircuitsHandler(srv))
	r.POST("/v1/tokens/refresh-check", refreshCheckHandler(srv))
	r.GET("/v1/users/{user_id}/notifications", listNotificationsHandler(srv))
	r.POST("/v1/users/{user_id}/notifications/{notification_id}/dismiss", dismissNotificationHandler(srv))
	r.GET("/v1/admin/notifications", listAdminNotificationsHandler(srv))
}

func userIDVar(ctx http.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Vars().Get("user_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, kerrors.BadRequest("INVALID_USER_ID", "user id must be a positive integer")
	}
	return id, nil
}

func recoverHandler(srv *RecoveryService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RecoverRequest
		if err := ctx.Bind(&in); err != nil {
			return kerrors.BadRequest("INVALID_BODY", err.Error())
		}
		http.SetOperation(ctx, OperationRecover)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Recover(ctx, req.(*RecoverRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*RecoverReply))
	}
}

func listCircuitsHandler(srv *RecoveryService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListCircuitsRequest
		http.SetOperation(ctx, OperationListCircuits)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListCircuits(ctx, req.(*ListCircuitsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*ListCircuitsReply))
	}
}

func refreshCheckHandler(srv *RecoveryService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RefreshCheckRequest
		if err := ctx.BindQuery(&in); err != nil {
			return kerrors.BadRequest("INVALID_QUERY", err.Error())
		}
		http.SetOperation(ctx, OperationRefreshCheck)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RefreshCheck(ctx, req.(*RefreshCheckRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*RefreshCheckReply))
	}
}

func listNotificationsHandler(srv *RecoveryService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListNotificationsRequest
		if err := ctx.BindQuery(&in); err != nil {
			return kerrors.BadRequest("INVALID_QUERY", err.Error())
		}
		userID, err := userIDVar(ctx)
		if err != nil {
			return err
		}
		in.UserID = userID
		http.SetOperation(ctx, OperationListNotifications)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListNotifications(ctx, req.(*ListNotificationsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*ListNotificationsReply))
	}
}

func dismissNotificationHandler(srv *RecoveryService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		userID, err := userIDVar(ctx)
		if err != nil {
			return err
		}
		in := DismissNotificationRequest{
			UserID:         userID,
			NotificationID: ctx.Vars().Get("notification_id"),
		}
		http.SetOperation(ctx, OperationDismissNotification)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.DismissNotification(ctx, req.(*DismissNotificationRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*DismissNotificationReply))
	}
}

func listAdminNotificationsHandler(srv *RecoveryService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListAdminNotificationsRequest
		if err := ctx.BindQuery(&in); err != nil {
			return kerrors.BadRequest("INVALID_QUERY", err.Error())
		}
		http.SetOperation(ctx, OperationListAdminNotifications)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListAdminNotifications(ctx, req.(*ListAdminNotificationsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*ListAdminNotificationsReply))
	}
}
