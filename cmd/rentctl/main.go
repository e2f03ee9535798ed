// Command rentctl es un cliente de línea de comandos del marketplace: inicia
// sesión con cualquiera de las tres audiencias, hace requests autenticados
// (con refresh automático) y persiste las credenciales entre invocaciones.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dropDatabas3/rentsession/internal/api"
	"github.com/dropDatabas3/rentsession/internal/session"
	"github.com/spf13/cobra"
)

// Códigos de salida.
const (
	exitOK        = 0
	exitError     = 1
	exitSignedOut = 2 // la sesión terminó: hay que volver a loguearse
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, cleanup := newRootCmd(stdout, stderr)
	defer cleanup()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err.Error())
		if session.IsKind(err, session.KindSessionTerminal) {
			return exitSignedOut
		}
		return exitError
	}
	return exitOK
}

// newRootCmd arma el árbol de comandos. cleanup cierra el runtime abierto
// por el comando ejecutado (también cuando falla).
func newRootCmd(stdout, stderr io.Writer) (root *cobra.Command, cleanup func()) {
	o := &options{
		configPath: envOr("RENTCTL_CONFIG", ""),
		envFile:    envOr("RENTCTL_ENV_FILE", ".env"),
		out:        envOr("RENTCTL_OUT", "text"),
	}
	var a *app

	root = &cobra.Command{
		Use:           "rentctl",
		Short:         "Cliente CLI del marketplace de alquiler de autos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.out != "json" && o.out != "text" {
				return fmt.Errorf("--out inválido %q (json|text)", o.out)
			}
			var err error
			a, err = openApp(o, stdout, stderr)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", o.configPath, "Archivo YAML de configuración (env RENTCTL_CONFIG)")
	pf.StringVar(&o.envFile, "env-file", o.envFile, "Archivo .env a cargar si existe")
	pf.StringVar(&o.baseURL, "base-url", "", "URL base del API (pisa RENT_API_BASE_URL)")
	pf.StringVar(&o.storeDriver, "store", "", "Storage de credenciales: file|memory|redis")
	pf.StringVar(&o.storePath, "store-path", "", "Archivo de credenciales para --store file")
	pf.StringVar(&o.surface, "surface", "", "Superficie activa: consumer|crm|employee")
	pf.StringVar(&o.out, "out", o.out, "Formato de salida: json|text")
	pf.BoolVar(&o.metrics, "metrics", false, "Al terminar, imprimir métricas del cliente en stderr")

	rt := func() *app { return a }

	root.AddCommand(
		loginCmd(rt),
		registerCmd(rt),
		otpCmd(rt),
		adminCmd(rt),
		staffCmd(rt),
		callCmd(rt),
		uploadCmd(rt),
		logoutCmd(rt),
		statusCmd(rt),
	)
	return root, func() {
		if a != nil {
			a.close()
		}
	}
}

// =================================================================================
// AUTH
// =================================================================================

type credFlags struct{ email, password string }

func (f *credFlags) bind(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringVar(&f.email, "email", envOr(prefix+"_EMAIL", ""), "Email (env "+prefix+"_EMAIL)")
	cmd.Flags().StringVar(&f.password, "password", envOr(prefix+"_PASSWORD", ""), "Password (env "+prefix+"_PASSWORD)")
}

func (a *app) printLogin(res *api.LoginResult) {
	if a.opts.out == "json" {
		a.print(res)
		return
	}
	who := ""
	if res.User != nil {
		who = res.User.Email
		if res.User.Role != "" {
			who += " (" + res.User.Role + ")"
		}
	}
	a.print(fmt.Sprintf("logged in as %s %s", res.Audience, who))
}

func loginCmd(rt func() *app) *cobra.Command {
	var f credFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login de cliente con email/password",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			res, err := a.auth.Login(cmd.Context(), f.email, f.password)
			if err != nil {
				return err
			}
			a.printLogin(res)
			return nil
		},
	}
	f.bind(cmd, "RENT")
	return cmd
}

func registerCmd(rt func() *app) *cobra.Command {
	var in api.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Alta de cliente (queda logueado)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			res, err := a.auth.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.printLogin(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Nombre")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "Teléfono")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password")
	return cmd
}

func otpCmd(rt func() *app) *cobra.Command {
	cmd := &cobra.Command{Use: "otp", Short: "Login por código SMS"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "send PHONE",
			Short: "Pedir un código",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := rt().auth.SendLoginOTP(cmd.Context(), args[0]); err != nil {
					return err
				}
				rt().print("otp sent")
				return nil
			},
		},
		&cobra.Command{
			Use:   "resend PHONE",
			Short: "Reenviar el código (respeta el cooldown)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := rt().auth.ResendOTP(cmd.Context(), args[0]); err != nil {
					return err
				}
				rt().print("otp sent")
				return nil
			},
		},
		&cobra.Command{
			Use:   "verify PHONE CODE",
			Short: "Completar el login con el código",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a := rt()
				res, err := a.auth.VerifyOTP(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				a.printLogin(res)
				return nil
			},
		},
	)
	return cmd
}

func adminCmd(rt func() *app) *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Sesión de administrador (panel CRM)"}

	var f credFlags
	login := &cobra.Command{
		Use:   "login",
		Short: "Login de administrador",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			res, err := a.auth.AdminLogin(cmd.Context(), f.email, f.password)
			if err != nil {
				return err
			}
			a.printLogin(res)
			return nil
		},
	}
	f.bind(login, "RENT_ADMIN")

	var in api.RegisterInput
	signup := &cobra.Command{
		Use:   "signup",
		Short: "Alta de administrador",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			res, err := a.auth.AdminSignup(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.printLogin(res)
			return nil
		},
	}
	signup.Flags().StringVar(&in.Name, "name", "", "Nombre")
	signup.Flags().StringVar(&in.Email, "email", "", "Email")
	signup.Flags().StringVar(&in.Password, "password", "", "Password")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Cerrar la sesión de administrador",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt().auth.AdminLogout(cmd.Context()); err != nil {
				return err
			}
			rt().print("admin logged out")
			return nil
		},
	}

	cmd.AddCommand(login, signup, logout)
	return cmd
}

func staffCmd(rt func() *app) *cobra.Command {
	cmd := &cobra.Command{Use: "staff", Short: "Sesión de empleado"}

	var f credFlags
	login := &cobra.Command{
		Use:   "login",
		Short: "Login de empleado",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			res, err := a.auth.StaffLogin(cmd.Context(), f.email, f.password)
			if err != nil {
				return err
			}
			a.printLogin(res)
			return nil
		},
	}
	f.bind(login, "RENT_STAFF")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Cerrar la sesión de empleado",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt().auth.StaffLogout(cmd.Context()); err != nil {
				return err
			}
			rt().print("staff logged out")
			return nil
		},
	}

	cmd.AddCommand(login, logout)
	return cmd
}

// =================================================================================
// REQUESTS
// =================================================================================

func callCmd(rt func() *app) *cobra.Command {
	var audience string
	var query []string
	cmd := &cobra.Command{
		Use:   "call METHOD PATH [JSON_BODY]",
		Short: "Request autenticado (refresca y reintenta una vez ante 401)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			req := session.NewRequest(args[0], args[1])
			if len(args) == 3 {
				req.Body = []byte(args[2])
				req.BodyKind = session.BodyJSON
			}
			if audience != "" {
				aud, err := session.ParseAudience(audience)
				if err != nil {
					return err
				}
				req.Audience = aud
			}
			if len(query) > 0 {
				req.Query = map[string]string{}
				for _, kv := range query {
					k, v, _ := strings.Cut(kv, "=")
					req.Query[k] = v
				}
			}
			resp, err := a.client.Do(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.printBody(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&audience, "audience", "", "Forzar audiencia: user|admin|employee")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "Query param k=v (repetible)")
	return cmd
}

func uploadCmd(rt func() *app) *cobra.Command {
	var fields, files []string
	cmd := &cobra.Command{
		Use:   "upload PATH",
		Short: "POST multipart/form-data (documentos, fotos)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			form := map[string]string{}
			for _, f := range fields {
				k, v, _ := strings.Cut(f, "=")
				form[k] = v
			}
			var uploads []session.UploadFile
			for _, f := range files {
				field, path, ok := strings.Cut(f, "=")
				if !ok {
					return fmt.Errorf("--file espera campo=ruta, got %q", f)
				}
				fh, err := os.Open(path)
				if err != nil {
					return err
				}
				defer fh.Close()
				uploads = append(uploads, session.UploadFile{Field: field, Name: filepath.Base(path), Content: fh})
			}
			resp, err := a.client.Upload(cmd.Context(), args[0], form, uploads...)
			if err != nil {
				return err
			}
			a.printBody(resp)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Campo de formulario k=v (repetible)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "Archivo campo=ruta (repetible)")
	return cmd
}

// =================================================================================
// SESIÓN
// =================================================================================

func logoutCmd(rt func() *app) *cobra.Command {
	var audience string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Cerrar sesión (una audiencia o todas)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			ctx := cmd.Context()
			targets := session.Audiences
			if audience != "all" {
				aud, err := session.ParseAudience(audience)
				if err != nil {
					return err
				}
				targets = []session.Audience{aud}
			}
			var errs []error
			for _, aud := range targets {
				var err error
				switch aud {
				case session.AudienceAdmin:
					err = a.auth.AdminLogout(ctx)
				case session.AudienceEmployee:
					err = a.auth.StaffLogout(ctx)
				default:
					err = a.auth.Logout(ctx)
				}
				errs = append(errs, err)
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			a.print("logged out")
			return nil
		},
	}
	cmd.Flags().StringVar(&audience, "audience", "user", "user|admin|employee|all")
	return cmd
}

func statusCmd(rt func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Mostrar las sesiones guardadas (sin tokens)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := rt()
			a.print(a.status(cmd.Context()))
			return nil
		},
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
