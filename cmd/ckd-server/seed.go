package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/domain/labs"
	"github.com/ckdcare/ckdcare/internal/domain/scheduling"
	"github.com/ckdcare/ckdcare/internal/platform/events"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

var (
	firstNames  = []string{"Amina", "Bruno", "Chloé", "Daniel", "Elena", "Farid", "Grace", "Hugo", "Inès", "Jonas", "Karim", "Léa"}
	lastNames   = []string{"Benali", "Martin", "Dubois", "Moreau", "Haddad", "Laurent", "Garcia", "Petit", "Roux", "Fontaine"}
	specialties = []string{"Nephrology", "Internal Medicine", "Nephrology"}
)

// visit is one set of lab values recorded on a date.
type visit struct {
	date   time.Time
	values map[labs.TestCode]float64
}

type samplePatient struct {
	user    *identity.User
	patient *identity.Patient
	visits  []visit
}

// newSamplePatient draws a patient and three quarterly visits whose eGFR
// declines slowly towards the drawn stage. The last visit is a week before now.
func newSamplePatient(g *ckd.Generator, run string, i int, now time.Time) samplePatient {
	gender := identity.GenderMale
	if g.IntN(2) == 0 {
		gender = identity.GenderFemale
	}
	first := firstNames[g.IntN(len(firstNames))]
	last := lastNames[g.IntN(len(lastNames))]
	birth := now.AddDate(-(30 + g.IntN(55)), -g.IntN(12), -g.IntN(28)).Truncate(24 * time.Hour)

	stage := g.Stage()
	level := g.ProteinuriaLevel()
	egfr := g.EGFRForStage(stage)
	acr := g.ACRForLevel(level)
	drift := float64(g.IntN(40)) / 10

	sp := samplePatient{
		user: &identity.User{
			FirstName: first,
			LastName:  last,
			Email:     fmt.Sprintf("patient%d.%s@ckdcare.example", i, run),
		},
		patient: &identity.Patient{
			BirthDate: birth,
			Gender:    gender,
		},
	}
	age := float64(now.Year() - birth.Year())
	female := gender == identity.GenderFemale
	for k := 0; k < 3; k++ {
		value := round1(egfr + float64(2-k)*drift)
		sp.visits = append(sp.visits, visit{
			date: now.AddDate(0, -3*(2-k), -7).Truncate(24 * time.Hour),
			values: map[labs.TestCode]float64{
				labs.CodeEGFR:       value,
				labs.CodeACR:        acr,
				labs.CodeCreatinine: ckd.EstimateCreatinine(value, age, female),
				labs.CodePotassium:  round1(3.5 + float64(g.IntN(26))/10),
				labs.CodeHemoglobin: round1(9 + float64(g.IntN(70))/10),
			},
		})
	}
	return sp
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install reference data and generate sample doctors, patients and lab history",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("patients")
			seed, _ := cmd.Flags().GetUint64("seed")
			refOnly, _ := cmd.Flags().GetBool("reference-only")

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg)
			svc := newServices(pool, events.NewLogPublisher(logger), logger)
			return runSeed(cmd.Context(), svc, logger, seedOptions{
				patients:      count,
				seed:          seed,
				referenceOnly: refOnly,
			})
		},
	}
	cmd.Flags().Int("patients", 20, "Number of sample patients to generate")
	cmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "Random seed for reproducible data")
	cmd.Flags().Bool("reference-only", false, "Only install lab tests and workflows")
	return cmd
}

type seedOptions struct {
	patients      int
	seed          uint64
	referenceOnly bool
}

func runSeed(ctx context.Context, svc *services, logger zerolog.Logger, opts seedOptions) error {
	tests, err := svc.labs.InstallDefaultTests(ctx)
	if err != nil {
		return fmt.Errorf("install lab tests: %w", err)
	}
	wfs, err := svc.workflows.InstallDefaults(ctx, nil)
	if err != nil {
		return fmt.Errorf("install workflows: %w", err)
	}
	logger.Info().Int("lab_tests", tests).Int("workflows", wfs).Msg("reference data installed")
	if opts.referenceOnly || opts.patients <= 0 {
		return nil
	}

	installed, err := svc.labs.ListTests(ctx)
	if err != nil {
		return err
	}
	testIDs := make(map[labs.TestCode]uuid.UUID, len(installed))
	for _, t := range installed {
		testIDs[t.Code] = t.ID
	}

	g := ckd.NewGenerator(opts.seed)
	run := fmt.Sprintf("%x", opts.seed&0xffffff)
	now := time.Now().UTC()

	var doctors []*identity.Doctor
	for i, specialty := range specialties {
		u := &identity.User{
			FirstName: firstNames[g.IntN(len(firstNames))],
			LastName:  lastNames[g.IntN(len(lastNames))],
			Email:     fmt.Sprintf("doctor%d.%s@ckdcare.example", i, run),
		}
		d := &identity.Doctor{Specialty: specialty}
		if err := svc.identity.CreateDoctor(ctx, u, d); err != nil {
			return fmt.Errorf("create doctor: %w", err)
		}
		doctors = append(doctors, d)
	}

	for i := 0; i < opts.patients; i++ {
		sp := newSamplePatient(g, run, i, now)
		first := sp.visits[0].values
		egfr, acr := first[labs.CodeEGFR], first[labs.CodeACR]
		sp.patient.LastEGFR, sp.patient.LastACR = &egfr, &acr
		if err := svc.identity.CreatePatient(ctx, sp.user, sp.patient); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}

		doctor := doctors[i%len(doctors)]
		for _, v := range sp.visits {
			for code, value := range v.values {
				id, ok := testIDs[code]
				if !ok {
					continue
				}
				r := &labs.LabResult{
					PatientID:  sp.patient.ID,
					DoctorID:   doctor.ID,
					LabTestID:  id,
					Value:      value,
					ResultDate: v.date,
				}
				if _, err := svc.labs.RecordResult(ctx, r); err != nil {
					return fmt.Errorf("record %s: %w", code, err)
				}
			}
		}

		purpose := "CKD follow-up"
		a := &scheduling.Appointment{
			PatientID:       sp.patient.ID,
			DoctorID:        doctor.ID,
			AppointmentDate: now.AddDate(0, 0, 7+g.IntN(60)).Truncate(time.Hour),
			Purpose:         &purpose,
			Status:          scheduling.StatusConfirmed,
		}
		if err := svc.scheduling.CreateAppointment(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
	}

	logger.Info().Int("doctors", len(doctors)).Int("patients", opts.patients).Uint64("seed", opts.seed).Msg("sample data generated")
	return nil
}
