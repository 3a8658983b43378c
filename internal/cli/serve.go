package cli

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"legalguardian/handler"
	"legalguardian/internal/server"
)

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			srv, err := server.New(a.Chat, a.Service, a.Logger)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context(), e.cfg.HTTPAddr)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	_ = e.v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newLambdaCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve API Gateway events inside AWS Lambda",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLambda(cmd.Context(), e)
		},
	}
}

func runLambda(ctx context.Context, e *env) error {
	a, err := e.app(ctx)
	if err != nil {
		return err
	}
	h, err := handler.NewHandler(a.Chat, a.Logger)
	if err != nil {
		return err
	}
	lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
	return nil
}
