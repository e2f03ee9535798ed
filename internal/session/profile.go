package session

// Profile agrupa, por audiencia, las rutas de auth y las keys de storage.
// Es la tabla que parametriza al Coordinator en lugar de tener un refresh
// por audiencia.
type Profile struct {
	Audience Audience

	// Keys en el storage durable
	AccessKey  string
	RefreshKey string

	// Endpoints del backend
	LoginPath   string
	RefreshPath string
	LogoutPath  string

	// EntryPoint es la pantalla de login a la que navegar tras un logout.
	EntryPoint string
}

// RoleKey guarda el rol del último login (lo usa la UI para elegir superficie).
const RoleKey = "userRole"

var profiles = map[Audience]Profile{
	AudienceUser: {
		Audience:    AudienceUser,
		AccessKey:   "authToken",
		RefreshKey:  "refreshToken",
		LoginPath:   "/auth/login",
		RefreshPath: "/auth/refresh-token",
		LogoutPath:  "/auth/logout",
		EntryPoint:  "/login",
	},
	AudienceAdmin: {
		Audience:    AudienceAdmin,
		AccessKey:   "adminToken",
		RefreshKey:  "adminRefreshToken",
		LoginPath:   "/admin/login",
		RefreshPath: "/admin/refresh-token",
		LogoutPath:  "/admin/logout",
		EntryPoint:  "/admin/login",
	},
	AudienceEmployee: {
		Audience:    AudienceEmployee,
		AccessKey:   "staffToken",
		RefreshKey:  "staffRefreshToken",
		LoginPath:   "/staff/login",
		RefreshPath: "/staff/refresh-token",
		LogoutPath:  "/staff/logout",
		EntryPoint:  "/employee/login",
	},
}

// ProfileFor retorna el perfil de la audiencia; audiencias desconocidas
// caen en User.
func ProfileFor(a Audience) Profile {
	if p, ok := profiles[a]; ok {
		return p
	}
	return profiles[AudienceUser]
}

// LoginEntryPoint retorna la pantalla de login de la audiencia.
func LoginEntryPoint(a Audience) string { return ProfileFor(a).EntryPoint }

// Public auth paths que no llevan credencial.
const (
	PathRegister     = "/auth/register"
	PathSendLoginOTP = "/auth/send-login-otp"
	PathVerifyOTP    = "/auth/verify-otp"
	PathResendOTP    = "/auth/resend-otp"
	PathAdminSignup  = "/admin/signup"
)
