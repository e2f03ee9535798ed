// Package session implementa el manejo de sesión del cliente HTTP de la
// plataforma de alquiler de autos: credenciales por audiencia (user, admin,
// employee), selección de audiencia por ruta, inyección del bearer,
// refresh single-flight ante 401 con reintento único, y un bus de eventos
// para que la capa de UI/navegación reaccione a login/logout/refresh.
//
// El estado de sesión no es global: se construye un *Context al arrancar y se
// inyecta en el *Client.
//
//	backend, _ := kv.New(kv.Config{Driver: "file", Path: "~/.rent/session.json"})
//	sc := session.NewContext(session.NewStore(backend), session.NewBus())
//	client, _ := session.NewClient(sc, session.Options{BaseURL: "https://api.example.com"})
//	resp, err := client.Get(ctx, "/bookings")
package session
