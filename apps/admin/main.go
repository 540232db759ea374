package main

import (
	"log"
	"os"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/user"
	emailsvc "github.com/mbalire/internhub/services/email"
	pgdoc "github.com/mbalire/internhub/storage/document/postgres"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	errAndDie(pgdoc.CreateIfNotExist(conf))
	db, err := pgdoc.Open(conf)
	errAndDie(err)
	defer db.Close()

	// start CLI
	cli := commandLine{
		db:     db.DB,
		usrSvc: user.NewService(pgdoc.NewStore(db), emailsvc.NewConsoleService(), conf),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
