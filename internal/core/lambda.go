package core

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	proxycore "github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/go-chi/chi/v5"
)

// LambdaHandler adapts mux to API Gateway REST proxy events, so the same chi
// router serves both the local listener and Lambda.
func LambdaHandler(mux *chi.Mux) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return chiadapter.New(mux).ProxyWithContext
}

// gatewayRequestID returns the API Gateway request id of a proxied request,
// or "" outside Lambda.
func gatewayRequestID(ctx context.Context) string {
	gw, ok := proxycore.GetAPIGatewayContextFromContext(ctx)
	if !ok {
		return ""
	}
	return gw.RequestID
}
