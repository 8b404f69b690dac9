package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/eremconecta/portal/internal/app"
	"github.com/eremconecta/portal/internal/config"
)

func main() {
	cfg := config.MustLoad()
	application, err := app.NewApp(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}
	lambda.Start(application.HandleRequest)
}
