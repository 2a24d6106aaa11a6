package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.DeviceInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	s.router.GET("/status", s.pipelineHandler.Status)
	s.router.GET("/geospatial", s.pipelineHandler.Geospatial)

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}
}
