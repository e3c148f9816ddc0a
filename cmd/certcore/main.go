package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"certcore/internal/adapters/backup"
	"certcore/internal/adapters/narrative"
	"certcore/internal/adapters/report"
	"certcore/internal/core"
	"certcore/internal/infra/blob"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// app holds the wired service and collaborators shared by all commands.
type app struct {
	service *core.Service
	store   core.PersistentStore
	verbose bool
}

func (a *app) init() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return codeError(3, "opening store: %s", err)
	}
	a.store = store
	metrics := core.NewExpvarMetricsRecorder("certcore_cli")
	a.service = core.NewService(store,
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithMetricsRecorder(metrics),
	)
	metrics.BindRecordBase(a.service.RecordBaseGauges)
	return nil
}

// snapshotSource adapts the configured store to the backup manager. Every
// driver embeds the memory store, so the assertion holds for all of them.
func (a *app) snapshotSource() (backup.SnapshotSource, error) {
	source, ok := a.store.(backup.SnapshotSource)
	if !ok {
		return nil, codeError(3, "storage driver does not support snapshots")
	}
	return source, nil
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:     "certcore",
		Short:   "Manage occupational-health medical leave certificates",
		Long:    "certcore keeps doctors, employees and medical leave certificates, flagging NR-1 psychosocial risk diagnoses as records come in.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable debug logging on stderr")

	root.AddCommand(
		newDoctorCmd(a),
		newEmployeeCmd(a),
		newCertificateCmd(a),
		newTopCmd(a),
		newStatsCmd(a),
		newRisksCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newBackupCmd(a),
		newNarrativeCmd(a),
	)

	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(1)
	}
}

// printWarnings surfaces non-blocking rule findings (NR-1 alerts included).
func printWarnings(res core.Result) {
	for _, warning := range res.Warnings() {
		fmt.Println(warning.Message)
	}
}

func newDoctorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "doctor", Short: "Manage doctors"}

	var input core.Doctor
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a doctor (an existing CRM returns the stored record)",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, res, err := a.service.AddDoctor(cmd.Context(), input)
			if err != nil {
				return codeError(2, "adding doctor: %s", err)
			}
			printWarnings(res)
			fmt.Printf("doctor %s (%s) registered\n", doctor.Name, doctor.CRM)
			return nil
		},
	}
	f := addCmd.Flags()
	f.StringVar(&input.CRM, "crm", "", "Doctor CRM (required)")
	f.StringVar(&input.Name, "name", "", "Doctor name (required)")
	f.StringVar(&input.Specialty, "specialty", "", "Medical specialty")
	f.StringVar(&input.Phone, "phone", "", "Contact phone")
	f.StringVar(&input.Email, "email", "", "Contact email")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List doctors in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CRM\tNAME\tSPECIALTY\tCERTIFICATES\tLAST ATTENDANCE")
			for _, d := range a.service.Doctors() {
				last := "-"
				if d.LastAttendance != nil {
					last = *d.LastAttendance
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.CRM, d.Name, d.Specialty, d.TotalCertificates, last)
			}
			return w.Flush()
		},
	}

	var edit core.Doctor
	editCmd := &cobra.Command{
		Use:   "edit <crm>",
		Short: "Update a doctor's contact fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, ok := a.service.DoctorByCRM(cmd.Context(), args[0])
			if !ok {
				return codeError(2, "doctor %s not found", args[0])
			}
			updated, res, err := a.service.UpdateDoctor(cmd.Context(), doctor.ID, func(d *core.Doctor) error {
				if edit.Name != "" {
					d.Name = edit.Name
				}
				if edit.Specialty != "" {
					d.Specialty = edit.Specialty
				}
				if edit.Phone != "" {
					d.Phone = edit.Phone
				}
				if edit.Email != "" {
					d.Email = edit.Email
				}
				return nil
			})
			if err != nil {
				return codeError(2, "updating doctor: %s", err)
			}
			printWarnings(res)
			fmt.Printf("doctor %s updated\n", updated.CRM)
			return nil
		},
	}
	ef := editCmd.Flags()
	ef.StringVar(&edit.Name, "name", "", "New name")
	ef.StringVar(&edit.Specialty, "specialty", "", "New specialty")
	ef.StringVar(&edit.Phone, "phone", "", "New phone")
	ef.StringVar(&edit.Email, "email", "", "New email")

	deleteCmd := &cobra.Command{
		Use:   "delete <crm>",
		Short: "Delete a doctor (refused while certificates reference it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, ok := a.service.DoctorByCRM(cmd.Context(), args[0])
			if !ok {
				return codeError(2, "doctor %s not found", args[0])
			}
			if _, err := a.service.DeleteDoctor(cmd.Context(), doctor.ID); err != nil {
				return codeError(2, "deleting doctor: %s", err)
			}
			fmt.Printf("doctor %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, editCmd, deleteCmd)
	return cmd
}

func newEmployeeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "employee", Short: "Manage employees"}

	var input core.Employee
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register an employee (an existing registration returns the stored record)",
		RunE: func(cmd *cobra.Command, args []string) error {
			employee, res, err := a.service.AddEmployee(cmd.Context(), input)
			if err != nil {
				return codeError(2, "adding employee: %s", err)
			}
			printWarnings(res)
			fmt.Printf("employee %s (%s) registered\n", employee.Name, employee.Registration)
			return nil
		},
	}
	f := addCmd.Flags()
	f.StringVar(&input.Registration, "registration", "", "Employee registration (required)")
	f.StringVar(&input.Name, "name", "", "Employee name (required)")
	f.StringVar(&input.Department, "department", "", "Department")
	f.StringVar(&input.Role, "role", "", "Role")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List employees in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REGISTRATION\tNAME\tDEPARTMENT\tROLE\tCERTIFICATES")
			for _, e := range a.service.Employees() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", e.Registration, e.Name, e.Department, e.Role, e.TotalCertificates)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func newCertificateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "certificate", Short: "Manage medical leave certificates"}

	var crm, registration string
	var input core.Certificate
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a certificate; the diagnosis code is classified on entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, res, err := a.service.AddCertificateByKeys(cmd.Context(), crm, registration, input)
			if err != nil {
				return codeError(2, "adding certificate: %s", err)
			}
			printWarnings(res)
			fmt.Printf("certificate %s registered (%s, %d day(s) off)\n", cert.ID, cert.Date, cert.DaysOff)
			if cert.PsychosocialRisk {
				fmt.Printf("psychosocial risk category: %s\n", cert.RiskDetail)
			}
			return nil
		},
	}
	f := addCmd.Flags()
	f.StringVar(&crm, "crm", "", "Doctor CRM (required)")
	f.StringVar(&registration, "registration", "", "Employee registration (required)")
	f.StringVar(&input.Date, "date", "", "Certificate date, ISO format (required)")
	f.IntVar(&input.DaysOff, "days", 0, "Days off work")
	f.StringVar(&input.RawCID, "cid", "", "ICD-10 diagnosis code")
	f.StringVar(&input.Diagnosis, "diagnosis", "", "Free-text diagnosis")
	f.StringVar(&input.Workplace, "workplace", "", "Workplace")

	cmd.AddCommand(addCmd, newCertificateListCmd(a))
	return cmd
}

func newCertificateListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List certificates in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors := make(map[string]core.Doctor)
			for _, d := range a.service.Doctors() {
				doctors[d.ID] = d
			}
			employees := make(map[string]core.Employee)
			for _, e := range a.service.Employees() {
				employees[e.ID] = e
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tDAYS\tCID\tRISK\tDOCTOR\tEMPLOYEE")
			for _, c := range a.service.Certificates() {
				risk := "-"
				if c.PsychosocialRisk {
					risk = c.RiskDetail
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", c.Date, c.DaysOff, c.CID, risk, doctors[c.DoctorID].Name, employees[c.EmployeeID].Name)
			}
			return w.Flush()
		},
	}
}

func newTopCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "top", Short: "Rank parties by certificate volume"}
	var limit int

	doctorsCmd := &cobra.Command{
		Use:   "doctors",
		Short: "Doctors with the most certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CRM\tNAME\tCERTIFICATES")
			for _, d := range a.service.TopDoctorsByCertificates(limit) {
				fmt.Fprintf(w, "%s\t%s\t%d\n", d.CRM, d.Name, d.TotalCertificates)
			}
			return w.Flush()
		},
	}
	employeesCmd := &cobra.Command{
		Use:   "employees",
		Short: "Employees with the most certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REGISTRATION\tNAME\tCERTIFICATES")
			for _, e := range a.service.TopEmployeesByCertificates(limit) {
				fmt.Fprintf(w, "%s\t%s\t%d\n", e.Registration, e.Name, e.TotalCertificates)
			}
			return w.Flush()
		},
	}
	cmd.PersistentFlags().IntVar(&limit, "limit", 5, "Maximum entries (0 lists all)")
	cmd.AddCommand(doctorsCmd, employeesCmd)
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate figures for the whole record base",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := a.service.Statistics()
			fmt.Printf("doctors: %d\n", stats.TotalDoctors)
			fmt.Printf("employees: %d\n", stats.TotalEmployees)
			fmt.Printf("certificates: %d\n", stats.TotalCertificates)
			fmt.Printf("days off (total): %d\n", stats.TotalDaysOff)
			fmt.Printf("psychosocial risk certificates: %d (%.1f%%)\n", stats.RiskCertificates, stats.RiskRatio*100)
			fmt.Printf("certificates per doctor: %.2f\n", stats.CertificatesPerDoctor)
			fmt.Printf("certificates per employee: %.2f\n", stats.CertificatesPerEmployee)
			if last := a.service.LastUpdate(); !last.IsZero() {
				fmt.Printf("last update: %s\n", last.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newRisksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "risks",
		Short: "Risk-flagged certificates joined with employee data, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cases := a.service.RiskCertificates()
			if len(cases) == 0 {
				fmt.Println("no psychosocial risk certificates recorded")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tEMPLOYEE\tDEPARTMENT\tDOCTOR\tCID\tCATEGORY")
			for _, item := range cases {
				department := item.Department
				if department == "" {
					department = core.UnassignedDepartment
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", item.Certificate.Date, item.EmployeeName, department, item.DoctorName, item.Certificate.CID, item.Certificate.RiskDetail)
			}
			return w.Flush()
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <doctors|employees|certificates> <file>",
		Short: "Import records from a fixed-column CSV file",
		Long: strings.Join([]string{
			"Import records from a fixed-column CSV file. Column layouts:",
			"  doctors:      crm,name,specialty,phone,email",
			"  employees:    registration,name,department,role",
			"  certificates: crm,registration,date,days_off,cid,diagnosis,workplace",
			"Rows that fail validation are reported and skipped; the batch continues.",
		}, "\n"),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[1])
			if err != nil {
				return codeError(3, "opening %s: %s", args[1], err)
			}
			defer func() { _ = file.Close() }()

			importer := report.NewImporter(a.service)
			var summary report.Summary
			switch args[0] {
			case "doctors":
				summary, err = importer.ImportDoctors(cmd.Context(), file)
			case "employees":
				summary, err = importer.ImportEmployees(cmd.Context(), file)
			case "certificates":
				summary, err = importer.ImportCertificates(cmd.Context(), file)
			default:
				return codeError(3, "unknown import kind %q", args[0])
			}
			if err != nil {
				return codeError(2, "importing %s: %s", args[0], err)
			}
			fmt.Printf("%d %s imported, %d row(s) rejected\n", summary.Imported, args[0], len(summary.Failures))
			for _, failure := range summary.Failures {
				fmt.Fprintf(os.Stderr, "  %s\n", failure)
			}
			return nil
		},
	}
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the record base as CSV and JSON artifacts to the blob store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blob.Open(cmd.Context())
			if err != nil {
				return codeError(3, "opening blob store: %s", err)
			}
			infos, err := report.NewExporter(a.service).Export(cmd.Context(), store)
			if err != nil {
				return codeError(2, "exporting: %s", err)
			}
			for _, info := range infos {
				fmt.Printf("%s (%d bytes)\n", info.Key, info.Size)
			}
			return nil
		},
	}
}

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "backup", Short: "Snapshot backups of the record base"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Write a full snapshot backup to the blob store",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := a.snapshotSource()
			if err != nil {
				return err
			}
			store, err := blob.Open(cmd.Context())
			if err != nil {
				return codeError(3, "opening blob store: %s", err)
			}
			info, err := backup.NewManager(source, store).Create(cmd.Context())
			if err != nil {
				return codeError(2, "creating backup: %s", err)
			}
			fmt.Printf("%s (%d bytes)\n", info.Key, info.Size)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := a.snapshotSource()
			if err != nil {
				return err
			}
			store, err := blob.Open(cmd.Context())
			if err != nil {
				return codeError(3, "opening blob store: %s", err)
			}
			infos, err := backup.NewManager(source, store).List(cmd.Context())
			if err != nil {
				return codeError(2, "listing backups: %s", err)
			}
			for _, info := range infos {
				fmt.Printf("%s\t%d bytes\t%s\n", info.Key, info.Size, info.LastModified.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func newNarrativeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "narrative",
		Short: "Print the analysis prompt (or JSON payload) for an external collaborator",
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := narrative.NewBuilder(a.service)
			if asJSON {
				data, err := builder.JSON()
				if err != nil {
					return codeError(2, "encoding payload: %s", err)
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Print(builder.Prompt())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the machine-readable payload instead of the prompt")
	return cmd
}
