package ethereum

// TokenABI is the subset of the course token contract used for awards.
const TokenABI = `[
  {"type":"function","name":"awardTokens","stateMutability":"nonpayable",
   "inputs":[{"name":"student","type":"address"},{"name":"courseId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"hasCourseCompleted","stateMutability":"view",
   "inputs":[{"name":"student","type":"address"},{"name":"courseId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getCompletedCourses","stateMutability":"view",
   "inputs":[{"name":"student","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"event","name":"TokensAwarded","anonymous":false,
   "inputs":[{"name":"student","type":"address","indexed":true},
             {"name":"courseId","type":"uint256","indexed":true},
             {"name":"amount","type":"uint256","indexed":false}]}
]`
