package main

import (
	"github.com/parqsoft/mailer-svc/internal/app"
	"github.com/parqsoft/mailer-svc/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
