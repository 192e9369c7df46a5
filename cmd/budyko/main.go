package main

import (
	"log"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Load environment variables from a .env file.'"`

	Run   RunCmd   `cmd:"" help:"Compute annual and period water balance for every configured site."`
	PET   PETCmd   `cmd:"" name:"pet" help:"Evaluate one PET formula for a single day."`
	Curve CurveCmd `cmd:"" help:"Evaluate the Budyko reference curve."`
}

func main() {
	log.SetFlags(log.LstdFlags)

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("budyko"),
		kong.Description("Flux-tower water balance in Budyko space."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
