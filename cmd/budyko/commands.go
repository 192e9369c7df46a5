package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/lox/budyko/internal/config"
	"github.com/lox/budyko/internal/metrics"
	"github.com/lox/budyko/internal/pet"
	"github.com/lox/budyko/internal/pipeline"
	"github.com/lox/budyko/internal/store"
	"github.com/lox/budyko/internal/waterbalance"
)

type RunCmd struct {
	Config      string `short:"c" default:"budyko.yaml" env:"BUDYKO_CONFIG" type:"path" help:"Path to the YAML config file."`
	Method      string `env:"BUDYKO_PET_METHOD" help:"Override the configured PET method."`
	Workers     int    `env:"BUDYKO_WORKERS" help:"Override the number of site workers."`
	DB          string `name:"db" env:"BUDYKO_DB" help:"SQLite database for results."`
	AnnualCSV   string `name:"annual-csv" help:"Write annual indices to this CSV file."`
	PeriodCSV   string `name:"period-csv" help:"Write period summaries to this CSV file."`
	MetricsFile string `name:"metrics-file" env:"BUDYKO_METRICS_FILE" help:"Write Prometheus metrics to this textfile on exit."`
	NoQC        bool   `name:"no-qc" help:"Keep implausible values instead of clearing them before aggregation."`
	Progress    bool   `help:"Show a progress bar."`
	Strict      bool   `help:"Exit non-zero when any site is skipped."`
}

func (c *RunCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Method != "" {
		m, err := pet.ParseMethod(c.Method)
		if err != nil {
			return err
		}
		cfg.PETMethod = m
	}
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if c.DB != "" {
		cfg.Database = c.DB
	}
	if c.NoQC {
		cfg.DisableQC = true
	}
	if c.AnnualCSV != "" {
		cfg.AnnualCSV = c.AnnualCSV
	}
	if c.PeriodCSV != "" {
		cfg.PeriodCSV = c.PeriodCSV
	}

	sites, err := cfg.Roster()
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	var st *store.Store
	if cfg.Database != "" {
		st, err = store.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		log.Printf("database %s migrated", cfg.Database)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.Run(ctx, pipeline.Options{
		DataDir:      cfg.DataDir,
		FileMarker:   cfg.FileMarker,
		MissingValue: cfg.MissingValue,
		Columns:      cfg.Columns,
		Method:       cfg.PETMethod,
		Workers:      cfg.Workers,
		Sites:        sites,
		DisableQC:    cfg.DisableQC,
		Store:        st,
		AnnualCSV:    cfg.AnnualCSV,
		PeriodCSV:    cfg.PeriodCSV,
		Progress:     c.Progress,
	})

	if c.MetricsFile != "" {
		if merr := metrics.WriteTextfile(c.MetricsFile); merr != nil {
			log.Printf("metrics: %v", merr)
		}
	}
	if err != nil {
		return err
	}

	for _, p := range report.Periods() {
		fmt.Printf("%-10s years=%-3d ai=%-8s er=%-8s budyko=%s\n",
			p.SiteID, p.Years, formatRatio(p.AridityIndex.Float64, p.AridityIndex.Valid),
			formatRatio(p.EvaporationRatio.Float64, p.EvaporationRatio.Valid),
			formatRatio(p.BudykoRatio.Float64, p.BudykoRatio.Valid))
	}
	if report.RunID != "" {
		fmt.Printf("run %s\n", report.RunID)
	}

	if skipErr := report.Err(); skipErr != nil {
		log.Printf("%d sites skipped", len(report.Skips))
		if c.Strict {
			return skipErr
		}
	}
	return nil
}

type PETCmd struct {
	Method     pet.Method `required:"" help:"PET method (priestley_taylor, penman_monteith, hargreaves, thornthwaite)."`
	NetRad     float64    `name:"net-rad" default:"NaN" help:"Net radiation (W/m²)."`
	GroundHeat float64    `name:"ground-heat" default:"0" help:"Ground heat flux (W/m²)."`
	Tavg       float64    `default:"NaN" help:"Mean air temperature (°C)."`
	Tmin       float64    `default:"NaN" help:"Minimum air temperature (°C)."`
	Tmax       float64    `default:"NaN" help:"Maximum air temperature (°C)."`
	Pressure   float64    `default:"NaN" help:"Air pressure (kPa)."`
	RH         float64    `name:"rh" default:"NaN" help:"Relative humidity (%)."`
	Wind       float64    `default:"NaN" help:"Wind speed (m/s)."`
	Latitude   float64    `default:"NaN" help:"Site latitude (degrees)."`
	DayOfYear  int        `name:"doy" default:"0" help:"Day of year (1-366)."`
}

func (c *PETCmd) Run() error {
	return c.run(os.Stdout)
}

func (c *PETCmd) run(w io.Writer) error {
	in := pet.Inputs{
		NetRad:      c.NetRad,
		GroundHeat:  c.GroundHeat,
		Tavg:        c.Tavg,
		Tmin:        c.Tmin,
		Tmax:        c.Tmax,
		Pressure:    c.Pressure,
		RelHumidity: c.RH,
		WindSpeed:   c.Wind,
		Latitude:    c.Latitude,
		DayOfYear:   c.DayOfYear,
	}
	in.ExtraterrestrialRad = pet.RadiationToEvaporation(pet.ExtraterrestrialRadiation(c.Latitude, c.DayOfYear))

	v, err := pet.Calculate(c.Method, in)
	if err != nil {
		return err
	}
	if math.IsNaN(v) {
		fmt.Fprintf(w, "%s: missing (a required input was not given)\n", c.Method)
	} else {
		fmt.Fprintf(w, "%s: %.4f mm/day\n", c.Method, v)
	}
	if caveat := c.Method.Caveat(); caveat != "" {
		fmt.Fprintf(w, "warning: %s\n", caveat)
	}
	return nil
}

type CurveCmd struct {
	AI []float64 `arg:"" name:"ai" help:"Aridity index values (PET/P)."`
}

func (c *CurveCmd) Run() error {
	for _, ai := range c.AI {
		er, ok := waterbalance.BudykoCurve(ai)
		fmt.Printf("ai=%g er=%s\n", ai, formatRatio(er, ok))
	}
	return nil
}

func formatRatio(v float64, ok bool) string {
	if !ok {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", v)
}
